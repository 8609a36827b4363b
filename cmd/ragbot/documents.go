package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
	"github.com/propakistanidev/WA-RAG-BOT/internal/inbox"
)

func ingestCmd() *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Chunk, embed and index documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			docs := make([]domain.Document, 0, len(args))
			for _, path := range args {
				content, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				docs = append(docs, domain.Document{Name: filepath.Base(path), Content: content})
			}

			report, err := a.engine.IngestInto(cmd.Context(), namespace, docs)
			if report != nil {
				printReport(report)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "target namespace (default: index.defaultNamespace)")
	return cmd
}

func printReport(r *domain.IngestReport) {
	fmt.Printf("Namespace: %s\n\n", r.Namespace)
	for _, d := range r.Documents {
		line := fmt.Sprintf("  [%-9s] %-30s %-6s %3d chunks", strings.ToUpper(string(d.Status)), d.Name, d.Format, d.ChunkCount)
		if d.Detail != "" {
			line += "  " + d.Detail
		}
		fmt.Println(line)
	}
	fmt.Printf("\n%d chunks written, %d skipped\n", r.Written, len(r.Skipped))
}

func queryCmd() *cobra.Command {
	var (
		namespace string
		topK      int
	)
	cmd := &cobra.Command{
		Use:   "query QUESTION",
		Short: "Show the chunks retrieved for a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			matches, err := a.engine.Search(cmd.Context(), strings.Join(args, " "), topK, namespace)
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				fmt.Println("No matching chunks.")
				return nil
			}
			for i, m := range matches {
				fmt.Printf("%d. [%.4f] %s\n", i+1, m.Score, m.Text)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "namespace to search (default: index.defaultNamespace)")
	cmd.Flags().IntVarP(&topK, "top", "k", 3, "number of chunks to return")
	return cmd
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			handler, err := a.newHandler(nil)
			if err != nil {
				return err
			}
			reply, err := handler.Answer(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	var (
		namespace string
		existing  bool
	)
	cmd := &cobra.Command{
		Use:   "watch DIR",
		Short: "Ingest files as they appear in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return inbox.NewWatcher(inbox.WatcherConfig{
				Dir:          args[0],
				Ingester:     a.engine,
				Namespace:    namespace,
				ScanExisting: existing,
				Logger:       logger,
			}).Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "target namespace (default: index.defaultNamespace)")
	cmd.Flags().BoolVar(&existing, "existing", true, "ingest files already in the directory")
	return cmd
}
