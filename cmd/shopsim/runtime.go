package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"shopkeep.ai/internal/campaign"
	"shopkeep.ai/internal/persistence/indexdb"
	plog "shopkeep.ai/internal/persistence/log"
	"shopkeep.ai/internal/persistence/mirror"
	"shopkeep.ai/internal/persistence/snapshot"
	"shopkeep.ai/internal/sim/config"
	"shopkeep.ai/internal/sim/kernel"
)

// runtime owns the kernel and every sink a command opened.
type runtime struct {
	reg    *config.Registry
	k      *kernel.Kernel
	sinks  campaign.Sinks
	logger *log.Logger
}

type runtimeOptions struct {
	ConfigDir string
	DataDir   string
	DisableDB bool
	SaveEvery int
	Logger    *log.Logger
}

func loadKernel(dir string) (*config.Registry, *kernel.Kernel, error) {
	reg, err := config.Load(dir)
	if err != nil {
		return nil, nil, err
	}
	k, err := kernel.New(reg)
	if err != nil {
		return nil, nil, err
	}
	return reg, k, nil
}

func openRuntime(ctx context.Context, opts runtimeOptions) (*runtime, error) {
	reg, k, err := loadKernel(opts.ConfigDir)
	if err != nil {
		return nil, err
	}
	for _, w := range reg.Warnings() {
		opts.Logger.Printf("config warning: %s", w)
	}
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, err
	}
	set := reg.Settings()
	rt := &runtime{
		reg:    reg,
		k:      k,
		logger: opts.Logger,
		sinks: campaign.Sinks{
			DataDir:   opts.DataDir,
			Store:     snapshot.NewStore(filepath.Join(opts.DataDir, "saves"), set.SaveRetention, set.SaveCompress),
			Days:      plog.NewDayLogger(opts.DataDir),
			Turns:     plog.NewTurnLogger(opts.DataDir),
			SaveEvery: opts.SaveEvery,
		},
	}
	if verbose {
		rt.sinks.Logger = opts.Logger
	}

	if !opts.DisableDB && !envBool("SHOPSIM_DISABLE_INDEX", false) {
		idx, err := indexdb.OpenSQLite(filepath.Join(opts.DataDir, "index", "shop.sqlite"))
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open index: %w", err)
		}
		rt.sinks.Index = idx
		if err := idx.UpsertConfig(ctx, reg.Digests()); err != nil {
			opts.Logger.Printf("index: upsert config: %v", err)
		}
	}

	m, err := buildMirror(ctx, opts.Logger)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("init mirror: %w", err)
	}
	rt.sinks.Mirror = m
	return rt, nil
}

// Close flushes and closes the sinks. The mirror goes last so files closed
// by the other sinks still upload.
func (rt *runtime) Close() {
	if rt.sinks.Days != nil {
		_ = rt.sinks.Days.Close()
	}
	if rt.sinks.Turns != nil {
		_ = rt.sinks.Turns.Close()
	}
	if rt.sinks.Index != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := rt.sinks.Index.Flush(ctx); err != nil {
			rt.logger.Printf("index flush: %v", err)
		}
		cancel()
		_ = rt.sinks.Index.Close()
	}
	if m := rt.sinks.Mirror; m != nil {
		m.Close()
		st := m.Stats()
		rt.logger.Printf("mirror uploaded=%d deleted=%d superseded=%d failed=%d dropped=%d", st.UploadSuccessTotal, st.DeleteSuccessTotal, st.SupersededTotal, st.FailTotal, st.DroppedTotal)
	}
}

// buildMirror returns nil unless SHOPSIM_MIRROR_BUCKET is set.
func buildMirror(ctx context.Context, logger *log.Logger) (*mirror.Mirror, error) {
	cfg, ok := mirror.ConfigFromEnv()
	if !ok {
		return nil, nil
	}
	client, err := mirror.NewS3(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return mirror.New(client, os.Getenv("SHOPSIM_MIRROR_PREFIX"), mirror.Options{
		Workers:       envInt("SHOPSIM_MIRROR_WORKERS", 2),
		QueueCapacity: envInt("SHOPSIM_MIRROR_QUEUE", 256),
	}, logger), nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
