package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	firebase "firebase.google.com/go/v4"
	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"google.golang.org/api/option"

	"github.com/zombor/household-expenses/internal/extraction"
	"github.com/zombor/household-expenses/internal/household"
	"github.com/zombor/household-expenses/internal/identity"
	"github.com/zombor/household-expenses/internal/logging"
	"github.com/zombor/household-expenses/internal/notify"
	"github.com/zombor/household-expenses/internal/scanning"
	"github.com/zombor/household-expenses/internal/session"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env file is fine
	_ = godotenv.Load()

	fs := ff.NewFlagSet("household-expenses")
	var (
		port            = fs.IntLong("port", 8080, "HTTP server port")
		logLevel        = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		store           = fs.StringLong("store", "bolt", "Document store: 'bolt' or 'firestore'")
		dbPath          = fs.StringLong("db", "household-expenses.db", "Database file path (bolt store)")
		sessionPath     = fs.StringLong("session-db", "sessions.db", "Session store file path")
		capturePath     = fs.StringLong("captures", "./captures", "Directory for receipt captures being recognised")
		projectID       = fs.StringLong("firebase-project", "", "Firebase project ID")
		credentialsFile = fs.StringLong("firebase-credentials", "", "Firebase service account JSON file (defaults to application credentials)")
		push            = fs.BoolLong("push", "Send invite push notifications through FCM")
		ocrType         = fs.StringLong("ocr", "gemini", "Text recognition backend: 'gemini' or 'ollama'")
		geminiKey       = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel     = fs.StringLong("gemini-model", "gemini-2.5-flash", "Gemini model used for expense extraction")
		geminiURL       = fs.StringLong("gemini-url", "", "Gemini API base URL (defaults to the public endpoint)")
		ocrModel        = fs.StringLong("ocr-model", "gemini-2.5-flash", "Gemini vision model used for text recognition")
		ollamaURL       = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel     = fs.StringLong("ollama-model", "llava", "Ollama vision model name (e.g., llava, qwen2-vl)")
		showVersion     = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("HOUSEHOLD_EXPENSES"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logging.Setup(os.Stderr, *logLevel)
	ctx := context.Background()

	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}

	// Initialize Firebase
	slog.Info("Initializing Firebase...", "project", *projectID)
	var opts []option.ClientOption
	if *credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(*credentialsFile))
	}
	var config *firebase.Config
	if *projectID != "" {
		config = &firebase.Config{ProjectID: *projectID}
	}
	app, err := firebase.NewApp(ctx, config, opts...)
	if err != nil {
		slog.Error("Failed to initialize Firebase", "error", err)
		os.Exit(1)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		slog.Error("Failed to initialize Firebase Auth", "error", err)
		os.Exit(1)
	}

	// Initialize database
	slog.Info("Initializing database...", "store", *store)
	var db household.DB
	switch *store {
	case "bolt":
		db, err = household.NewBoltDB(*dbPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
	case "firestore":
		client, err := app.Firestore(ctx)
		if err != nil {
			slog.Error("Failed to initialize Firestore", "error", err)
			os.Exit(1)
		}
		db = household.NewFirestoreDB(client)
	default:
		slog.Error("Invalid store type", "type", *store, "valid", "bolt or firestore")
		os.Exit(1)
	}
	defer db.Close()

	sessions, err := session.NewBoltStore(*sessionPath)
	if err != nil {
		slog.Error("Failed to initialize session store", "error", err)
		os.Exit(1)
	}
	defer sessions.Close()

	// Initialize text recognition based on type
	var recognizer scanning.Recognizer
	switch *ocrType {
	case "gemini":
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini text recognition...", "model", *ocrModel)
		recognizer, err = scanning.NewGemini(apiKey, *ocrModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama text recognition...", "url", *ollamaURL, "model", *ollamaModel)
		recognizer, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid OCR type", "type", *ocrType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer recognizer.Close()

	slog.Info("Initializing expense extraction...", "model", *geminiModel)
	extractor, err := extraction.NewGemini(*geminiURL, apiKey, *geminiModel)
	if err != nil {
		slog.Error("Failed to initialize expense extraction", "error", err)
		os.Exit(1)
	}

	// Initialize capture storage
	captures, err := household.NewLocalStorage(*capturePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	var notifier notify.Notifier = notify.Discard{}
	if *push {
		messagingClient, err := app.Messaging(ctx)
		if err != nil {
			slog.Error("Failed to initialize Firebase Messaging", "error", err)
			os.Exit(1)
		}
		notifier = notify.NewFCM(messagingClient)
	}

	service := household.NewService(db, sessions, identity.NewFirebase(authClient), recognizer, extractor, captures, notifier)
	server := household.NewServer(service)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
