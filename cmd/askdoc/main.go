package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"askdoc/internal/ai"
	"askdoc/internal/chunker"
	"askdoc/internal/config"
	"askdoc/internal/embedcache"
	"askdoc/internal/engine"
	"askdoc/internal/filestore"
	"askdoc/internal/job"
	apperr "askdoc/internal/pkg/errors"
	"askdoc/internal/schedule"
	"askdoc/internal/vectorstore"
	_ "askdoc/internal/vectorstore/flat"
	_ "askdoc/internal/vectorstore/pgvector"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "askdoc",
		Short: "index documents and answer questions over them",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "path to config.json")

	setup := func() (*config.Config, *engine.Engine, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Init(
			cfg.LogConfig.File,
			cfg.LogConfig.Level,
			int(cfg.LogConfig.FileCount),
			int(cfg.LogConfig.FileSize),
			int(cfg.LogConfig.KeepDays),
			cfg.LogConfig.Console,
		)
		logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
		eng, err := buildEngine(cfg)
		if err != nil {
			return nil, nil, err
		}
		return cfg, eng, nil
	}

	opTimeout := func(cfg *config.Config) time.Duration {
		return time.Duration(cfg.AI.TimeoutSecs) * time.Second
	}

	ingestCmd := &cobra.Command{
		Use:   "ingest <file> [file...]",
		Short: "extract, chunk, embed and index documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, eng, err := setup()
			if err != nil {
				return err
			}
			for _, path := range args {
				ctx, cancel := context.WithTimeout(context.Background(), opTimeout(cfg))
				n, err := eng.IngestFile(ctx, path)
				cancel()
				if err != nil {
					return fmt.Errorf("ingest %s: %w", path, err)
				}
				fmt.Printf("indexed %s: %d chunks\n", path, n)
			}
			return nil
		},
	}

	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "answer a question from the indexed documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, eng, err := setup()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout(cfg))
			defer cancel()
			answer, results, err := eng.Ask(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(answer)
			for _, r := range results {
				fmt.Printf("  source: %s#%d (score %.3f)\n", r.Meta.Filename, r.Meta.ChunkIndex, r.Score)
			}
			return nil
		},
	}

	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "show the chunks nearest to a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, eng, err := setup()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout(cfg))
			defer cancel()
			results, err := eng.Retrieve(ctx, args[0])
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("no results")
				return nil
			}
			for i, r := range results {
				fmt.Printf("%d. %s#%d (score %.3f)\n%s\n\n", i+1, r.Meta.Filename, r.Meta.ChunkIndex, r.Score, r.Meta.ChunkText)
			}
			return nil
		},
	}

	var summaryStyle string
	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "summarize every indexed document",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, eng, err := setup()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout(cfg))
			defer cancel()
			summary, err := eng.SummarizeAll(ctx, summaryStyle)
			if err != nil {
				return err
			}
			fmt.Println(summary)
			return nil
		},
	}
	summaryCmd.Flags().StringVar(&summaryStyle, "style", engine.SummaryComprehensive, "summary style: comprehensive, brief or detailed")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "show index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, eng, err := setup()
			if err != nil {
				return err
			}
			stats, err := eng.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("vectors: %d\ndimension: %d\ndocuments: %d\n", stats.TotalVectors, stats.Dimension, stats.Documents)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "drop all indexed chunks",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, eng, err := setup()
			if err != nil {
				return err
			}
			if err := eng.Clear(context.Background()); err != nil {
				return err
			}
			fmt.Println("index cleared")
			return nil
		},
	}

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "periodically ingest changed files from the watched directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, eng, err := setup()
			if err != nil {
				return err
			}
			if len(cfg.Watch.Dirs) == 0 {
				return fmt.Errorf("watch.dirs is empty")
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sched := schedule.NewCronScheduler()
			if err := sched.AddJob(job.NewWatchIngestJob(eng, cfg.Watch.Dirs), cfg.Watch.Spec); err != nil {
				return err
			}
			sched.Start(ctx)
			<-ctx.Done()
			logutil.GetLogger(context.Background()).Info("watch stopping...")
			sched.Stop()
			return nil
		},
	}

	rootCmd.AddCommand(ingestCmd, askCmd, searchCmd, summaryCmd, statsCmd, clearCmd, watchCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("command failed", zap.Error(err))
	}
}

func buildEngine(cfg *config.Config) (*engine.Engine, error) {
	files, err := filestore.New(cfg.FileStore)
	if err != nil {
		return nil, fmt.Errorf("init file store: %w", err)
	}
	store, err := vectorstore.New(cfg.VectorStore, files)
	if err != nil {
		return nil, fmt.Errorf("init vector store: %w", err)
	}

	embedders := make([]ai.EmbedderEntry, 0, len(cfg.AI.Embedders))
	for _, pc := range cfg.AI.Embedders {
		provider, err := ai.NewEmbedProvider(pc.Provider, pc.Data)
		if err != nil {
			return nil, fmt.Errorf("init embed provider %s: %w", pc.Provider, err)
		}
		embedders = append(embedders, ai.EmbedderEntry{
			Name:     pc.Model,
			Embedder: ai.NewEmbedder(provider, pc.Model),
		})
	}
	embedder := ai.NewGroupEmbedder(embedders)
	embedder = embedcache.WrapLruCacheToEmbedder(embedder,
		cfg.EmbedCache.Size, time.Duration(cfg.EmbedCache.TTLMinutes)*time.Minute)

	var generator ai.IGenerator
	if len(cfg.AI.Generators) > 0 {
		generators := make([]ai.GeneratorEntry, 0, len(cfg.AI.Generators))
		for _, pc := range cfg.AI.Generators {
			provider, err := ai.NewProvider(pc.Provider, pc.Data)
			if err != nil {
				return nil, fmt.Errorf("init provider %s: %w", pc.Provider, err)
			}
			generators = append(generators, ai.GeneratorEntry{
				Name:      pc.Model,
				Generator: ai.NewGenerator(provider, pc.Model),
			})
		}
		generator = ai.NewGroupGenerator(generators)
	}

	ck, err := chunker.New(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("init chunker: %w", err)
	}
	eng, err := engine.New(engine.Options{
		Chunker:   ck,
		Embedder:  embedder,
		Generator: generator,
		Store:     store,
		TopK:      cfg.Retrieval.TopK,
		Threshold: cfg.Retrieval.SimilarityThreshold,
	})
	if err != nil {
		return nil, err
	}
	if err := eng.Load(context.Background()); err != nil {
		if apperr.IsCorruptStore(err) {
			return nil, fmt.Errorf("load index: %w (run \"askdoc clear\" to rebuild)", err)
		}
		return nil, fmt.Errorf("load index: %w", err)
	}
	return eng, nil
}
