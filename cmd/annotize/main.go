package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"annotize/internal/annotation"
	"annotize/internal/config"
	"annotize/internal/docview"
	"annotize/internal/logging"
	"annotize/internal/session"
	"annotize/internal/storage"

	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "annotize",
		Short: "Store, check and exchange range annotations on documents",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg = c
			logging.Init(logging.ParseLevel(cfg.Log.Level), logging.ParseFormat(cfg.Log.Format), os.Stderr)
			if dbPath == "" {
				dbPath = cfg.Store.Path
			}
			return nil
		},
	}
	cfg        = config.Default()
	dbPath     string
	configPath string
	docPath    string
	sourceURI  string
	outPath    string
	findValue  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Path to the annotation database (SQLite); defaults to store.path from the config")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config file")

	importCmd.Flags().StringVarP(&sourceURI, "source", "s", "", "Document URI the annotations belong to; defaults to document.source from the config")
	importCmd.Flags().StringVar(&docPath, "doc", "", "Annotated document (XML/XHTML) used to order ranges and derive offsets")
	exportCmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file; a .xz suffix compresses it (default stdout)")
	findCmd.Flags().StringVar(&findValue, "value", annotation.All, "Only annotations whose body holds this value, e.g. a tag id")
	checkCmd.Flags().StringVar(&docPath, "doc", "", "Annotated document (XML/XHTML) to resolve ranges against")
	_ = checkCmd.MarkFlagRequired("doc")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(deleteCmd)
}

// initStore opens the SQLite store.
func initStore() (*storage.SQLiteStore, error) {
	return storage.NewSQLiteStore(dbPath)
}

func sessionOptions() session.Options {
	return session.Options{ImplicitIdentifiers: cfg.Import.ImplicitIdentifiers}
}

// loadView parses the document at path, or returns nil when path is empty.
func loadView(path string) (*docview.View, error) {
	if path == "" {
		return nil, nil
	}
	return docview.LoadFile(path)
}

// loadSession rebuilds the stored session of source. A source with no
// stored document yields an empty session.
func loadSession(ctx context.Context, store storage.DocumentStore, source string, view *docview.View) (*session.Session, error) {
	s := session.New(source, view, sessionOptions())
	doc, err := store.LoadDocument(ctx, source)
	if errors.Is(err, storage.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	report, err := s.Import(doc.Content)
	if err != nil {
		return nil, err
	}
	if len(report.Failures) > 0 {
		log.Printf("⚠️ %d stored entries could not be restored", len(report.Failures))
	}
	return s, nil
}

// readInput reads a file, decompressing it when it ends in .xz.
func readInput(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".xz") {
		return storage.Decompress(data)
	}
	return data, nil
}

func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(append(data, '\n'))
		return err
	}
	if strings.HasSuffix(path, ".xz") {
		packed, err := storage.Compress(data)
		if err != nil {
			return err
		}
		data = packed
	}
	return os.WriteFile(path, data, 0o644)
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import an exchange document (JSON, optionally .xz) into the database",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		source := sourceURI
		if source == "" {
			source = cfg.Document.Source
		}
		if source == "" {
			log.Fatalf("No document source given; use --source or set document.source")
		}

		data, err := readInput(args[0])
		if err != nil {
			log.Fatalf("Failed to read %s: %v", args[0], err)
		}

		view, err := loadView(docPath)
		if err != nil {
			log.Fatalf("Failed to load document: %v", err)
		}

		// 1. Initialize Store & Load existing annotations
		store, err := initStore()
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer store.Close()

		s, err := loadSession(ctx, store, source, view)
		if err != nil {
			log.Fatalf("Failed to load stored annotations: %v", err)
		}

		// 2. Import
		fmt.Printf("📥 Importing %s into %s\n", args[0], source)
		start := time.Now()
		report, err := s.Import(data)
		if err != nil {
			log.Fatalf("Import failed: %v", err)
		}
		fmt.Printf("✅ Imported in %v: %d annotations, %d identifiers, %d references.\n",
			time.Since(start), report.Annotations, report.Identifiers, report.References)
		if report.Other > 0 {
			fmt.Printf("  -> %d elements of other types left out\n", report.Other)
		}
		for _, f := range report.Failures {
			fmt.Printf("⚠️  %v\n", f)
		}

		// 3. Save
		fmt.Println("💾 Saving to local database...")
		if err := store.SaveSession(ctx, s); err != nil {
			log.Fatalf("Failed to save annotations: %v", err)
		}
		fmt.Printf("🎉 Import complete! Database: %s\n", dbPath)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [source]",
	Short: "Write the stored exchange document of a source",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		store, err := initStore()
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer store.Close()

		doc, err := store.LoadDocument(ctx, args[0])
		if err != nil {
			log.Fatalf("Failed to load document: %v", err)
		}
		if err := writeOutput(outPath, doc.Content); err != nil {
			log.Fatalf("Failed to write export: %v", err)
		}
		if outPath != "" {
			fmt.Printf("✅ Exported %d annotations to %s\n", doc.AnnotationCount, outPath)
		}
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored documents",
	Run: func(cmd *cobra.Command, args []string) {
		store, err := initStore()
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer store.Close()

		docs, err := store.ListDocuments(context.Background())
		if err != nil {
			log.Fatalf("Failed to list documents: %v", err)
		}
		if len(docs) == 0 {
			fmt.Println("No documents stored.")
			return
		}
		for _, d := range docs {
			fmt.Printf("%s\t%d annotations\t%s\t%s\n", d.Source, d.AnnotationCount, d.ContentHash[:12], d.UpdatedAt.Format(time.RFC3339))
		}
	},
}

var findCmd = &cobra.Command{
	Use:   "find [body-type]",
	Short: "Find annotations by body type and body value across all documents (default: all)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		bodyType := annotation.All
		if len(args) > 0 {
			bodyType = args[0]
		}

		store, err := initStore()
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer store.Close()

		records, err := store.FindAnnotations(context.Background(), annotation.Filter{BodyType: bodyType, Value: findValue})
		if err != nil {
			log.Fatalf("Search failed: %v", err)
		}
		fmt.Printf("🔍 %d annotations found.\n", len(records))
		for _, r := range records {
			fmt.Printf("  %s\t%s\t%s\t%s\n", r.Source, r.ID, r.BodyType, r.Creator)
		}
	},
}

var checkCmd = &cobra.Command{
	Use:   "check [source]",
	Short: "Resolve every stored annotation of a source against the document and print what it covers",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		view, err := loadView(docPath)
		if err != nil {
			log.Fatalf("Failed to load document: %v", err)
		}

		store, err := initStore()
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer store.Close()

		s, err := loadSession(ctx, store, args[0], view)
		if err != nil {
			log.Fatalf("Failed to load stored annotations: %v", err)
		}

		results, err := s.Check()
		if err != nil {
			log.Fatalf("Check failed: %v", err)
		}
		broken := 0
		for _, r := range results {
			if r.Err != nil {
				broken++
				fmt.Printf("❌ %s: %v\n", r.AnnotationID, r.Err)
				continue
			}
			fmt.Printf("✅ %s: %q\n", r.AnnotationID, r.Quote)
		}
		fmt.Printf("📊 %d annotations checked, %d unresolved.\n", len(results), broken)
		if broken > 0 {
			os.Exit(1)
		}
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [source]",
	Short: "Delete the stored annotations of a source",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store, err := initStore()
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer store.Close()

		deleted, err := store.DeleteDocument(context.Background(), args[0])
		if err != nil {
			log.Fatalf("Failed to delete document: %v", err)
		}
		if !deleted {
			fmt.Printf("No document stored for %s.\n", args[0])
			return
		}
		fmt.Printf("🗑️  Deleted %s\n", args[0])
	},
}
