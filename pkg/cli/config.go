package cli

import (
	"context"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/adapter"
	"github.com/m-mizutani/mathmentor/pkg/agent"
	"github.com/m-mizutani/mathmentor/pkg/graph"
	"github.com/m-mizutani/mathmentor/pkg/input"
	"github.com/m-mizutani/mathmentor/pkg/knowledge"
	"github.com/m-mizutani/mathmentor/pkg/memory"
	"github.com/m-mizutani/mathmentor/pkg/metrics"
	"github.com/m-mizutani/mathmentor/pkg/sandbox"
	"github.com/m-mizutani/mathmentor/pkg/usecase/mentor"
	"github.com/m-mizutani/mathmentor/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// config holds configuration values
type config struct {
	logLevel string
	dataDir  string

	// LLM
	provider        string
	geminiAPIKey    string
	geminiProject   string
	geminiLocation  string
	openaiAPIKey    string
	openaiBaseURL   string
	generativeModel string
	embeddingModel  string
	visionModel     string
	audioModel      string
	notation        string

	// Knowledge store
	indexBackend        string
	indexDir            string
	firestoreProject    string
	firestoreDatabase   string
	firestoreCollection string
	batchSize           int64
	batchRate           float64
	retrievalK          int64

	// Memory store
	memoryPath   string
	memoryBucket string
	memoryObject string
	learn        bool

	// Audit
	auditProject string
	auditDataset string
	auditTable   string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Aliases:     []string{"l"},
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("MATHMENTOR_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "data-dir",
			Usage:       "Directory for the local index and memory file",
			Value:       "data",
			Sources:     cli.EnvVars("MATHMENTOR_DATA_DIR"),
			Destination: &cfg.dataDir,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "provider",
			Usage:       "Model provider (gemini, openai)",
			Value:       "gemini",
			Sources:     cli.EnvVars("MATHMENTOR_PROVIDER"),
			Destination: &cfg.provider,
		},
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key",
			Sources:     cli.EnvVars("MATHMENTOR_GEMINI_API_KEY", "GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini on Vertex AI",
			Sources:     cli.EnvVars("MATHMENTOR_GEMINI_PROJECT", "GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini on Vertex AI",
			Value:       "us-central1",
			Sources:     cli.EnvVars("MATHMENTOR_GEMINI_LOCATION", "GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI API key",
			Sources:     cli.EnvVars("MATHMENTOR_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.openaiAPIKey,
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Usage:       "Base URL of an OpenAI compatible endpoint",
			Sources:     cli.EnvVars("MATHMENTOR_OPENAI_BASE_URL"),
			Destination: &cfg.openaiBaseURL,
		},
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Generative model name (provider default if empty)",
			Sources:     cli.EnvVars("MATHMENTOR_MODEL"),
			Destination: &cfg.generativeModel,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Embedding model name (provider default if empty)",
			Sources:     cli.EnvVars("MATHMENTOR_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.StringFlag{
			Name:        "vision-model",
			Usage:       "OCR model name for the openai provider",
			Sources:     cli.EnvVars("MATHMENTOR_VISION_MODEL"),
			Destination: &cfg.visionModel,
		},
		&cli.StringFlag{
			Name:        "audio-model",
			Usage:       "Speech recognition model name for the openai provider",
			Sources:     cli.EnvVars("MATHMENTOR_AUDIO_MODEL"),
			Destination: &cfg.audioModel,
		},
		&cli.StringFlag{
			Name:        "notation",
			Usage:       "Math notation in explanations (latex, plain)",
			Value:       string(agent.NotationLaTeX),
			Sources:     cli.EnvVars("MATHMENTOR_NOTATION"),
			Destination: &cfg.notation,
		},
	}
}

// knowledgeFlags returns flags for the knowledge store
func knowledgeFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "index",
			Usage:       "Vector index backend (badger, firestore)",
			Value:       "badger",
			Sources:     cli.EnvVars("MATHMENTOR_INDEX"),
			Destination: &cfg.indexBackend,
		},
		&cli.StringFlag{
			Name:        "index-dir",
			Usage:       "Badger index directory (default: <data-dir>/index)",
			Sources:     cli.EnvVars("MATHMENTOR_INDEX_DIR"),
			Destination: &cfg.indexDir,
		},
		&cli.StringFlag{
			Name:        "firestore-project",
			Usage:       "Google Cloud project ID of the Firestore index",
			Sources:     cli.EnvVars("MATHMENTOR_FIRESTORE_PROJECT", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.firestoreProject,
		},
		&cli.StringFlag{
			Name:        "firestore-database",
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("MATHMENTOR_FIRESTORE_DATABASE", "FIRESTORE_DATABASE_ID"),
			Destination: &cfg.firestoreDatabase,
		},
		&cli.StringFlag{
			Name:        "firestore-collection",
			Usage:       "Firestore collection holding the chunks",
			Value:       "knowledge_chunks",
			Sources:     cli.EnvVars("MATHMENTOR_FIRESTORE_COLLECTION"),
			Destination: &cfg.firestoreCollection,
		},
		&cli.IntFlag{
			Name:        "batch-size",
			Usage:       "Chunks embedded per request during ingestion",
			Value:       knowledge.DefaultBatchSize,
			Sources:     cli.EnvVars("MATHMENTOR_BATCH_SIZE"),
			Destination: &cfg.batchSize,
		},
		&cli.FloatFlag{
			Name:        "batch-rate",
			Usage:       "Embedding batches per second during ingestion (0 for unlimited)",
			Sources:     cli.EnvVars("MATHMENTOR_BATCH_RATE"),
			Destination: &cfg.batchRate,
		},
		&cli.IntFlag{
			Name:        "retrieval-k",
			Usage:       "Chunks retrieved as context for conceptual problems",
			Value:       agent.DefaultRetrievalK,
			Sources:     cli.EnvVars("MATHMENTOR_RETRIEVAL_K"),
			Destination: &cfg.retrievalK,
		},
	}
}

// memoryFlags returns flags for the memory store
func memoryFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "memory-path",
			Usage:       "Memory file (default: <data-dir>/problem_memory.json)",
			Sources:     cli.EnvVars("MATHMENTOR_MEMORY_PATH"),
			Destination: &cfg.memoryPath,
		},
		&cli.StringFlag{
			Name:        "memory-bucket",
			Usage:       "Cloud Storage bucket for the memory log instead of a local file",
			Sources:     cli.EnvVars("MATHMENTOR_MEMORY_BUCKET"),
			Destination: &cfg.memoryBucket,
		},
		&cli.StringFlag{
			Name:        "memory-object",
			Usage:       "Object name of the memory log in the bucket",
			Value:       memory.DefaultObject,
			Sources:     cli.EnvVars("MATHMENTOR_MEMORY_OBJECT"),
			Destination: &cfg.memoryObject,
		},
		&cli.BoolFlag{
			Name:        "learn",
			Usage:       "Ingest committed and verified solutions into the knowledge store",
			Sources:     cli.EnvVars("MATHMENTOR_LEARN"),
			Destination: &cfg.learn,
		},
	}
}

// auditFlags returns flags for the BigQuery audit sink
func auditFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "audit-project",
			Usage:       "Google Cloud project ID for BigQuery audit records (disabled if empty)",
			Sources:     cli.EnvVars("MATHMENTOR_AUDIT_PROJECT"),
			Destination: &cfg.auditProject,
		},
		&cli.StringFlag{
			Name:        "audit-dataset",
			Usage:       "BigQuery dataset ID of the audit table",
			Value:       "mathmentor",
			Sources:     cli.EnvVars("MATHMENTOR_AUDIT_DATASET"),
			Destination: &cfg.auditDataset,
		},
		&cli.StringFlag{
			Name:        "audit-table",
			Usage:       "BigQuery table ID of the audit table",
			Value:       "runs",
			Sources:     cli.EnvVars("MATHMENTOR_AUDIT_TABLE"),
			Destination: &cfg.auditTable,
		},
	}
}

// allFlags returns every flag group needed to build the use case
func allFlags(cfg *config) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, llmFlags(cfg)...)
	flags = append(flags, knowledgeFlags(cfg)...)
	flags = append(flags, memoryFlags(cfg)...)
	flags = append(flags, auditFlags(cfg)...)
	return flags
}

// withLogger configures the logger for the command and attaches it to ctx
func (cfg *config) withLogger(ctx context.Context) context.Context {
	logger := logging.New(cfg.logLevel, nil)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// newLLM creates the model provider selected by --provider
func (cfg *config) newLLM(ctx context.Context) (adapter.Provider, error) {
	switch cfg.provider {
	case "gemini":
		var opts []adapter.GeminiOption
		if cfg.geminiProject != "" {
			opts = append(opts, adapter.WithVertexAI(cfg.geminiProject, cfg.geminiLocation))
		}
		if cfg.generativeModel != "" {
			opts = append(opts, adapter.WithGenerativeModel(cfg.generativeModel))
		}
		if cfg.embeddingModel != "" {
			opts = append(opts, adapter.WithEmbeddingModel(cfg.embeddingModel))
		}

		client, err := adapter.NewGemini(ctx, cfg.geminiAPIKey, opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create gemini client")
		}
		return client, nil

	case "openai":
		var opts []adapter.OpenAIOption
		if cfg.openaiBaseURL != "" {
			opts = append(opts, adapter.WithOpenAIBaseURL(cfg.openaiBaseURL))
		}
		if cfg.generativeModel != "" {
			opts = append(opts, adapter.WithOpenAIModel(cfg.generativeModel))
		}
		if cfg.embeddingModel != "" {
			opts = append(opts, adapter.WithOpenAIEmbeddingModel(cfg.embeddingModel))
		}
		if cfg.visionModel != "" {
			opts = append(opts, adapter.WithOpenAIVisionModel(cfg.visionModel))
		}
		if cfg.audioModel != "" {
			opts = append(opts, adapter.WithOpenAIAudioModel(cfg.audioModel))
		}

		client, err := adapter.NewOpenAI(ctx, cfg.openaiAPIKey, opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create openai client")
		}
		return client, nil

	default:
		return nil, goerr.New("unknown provider", goerr.V("provider", cfg.provider))
	}
}

// newIndex creates the vector index selected by --index
func (cfg *config) newIndex(ctx context.Context) (knowledge.Index, error) {
	switch cfg.indexBackend {
	case "badger":
		dir := cfg.indexDir
		if dir == "" {
			dir = filepath.Join(cfg.dataDir, "index")
		}
		index, err := knowledge.NewBadgerIndex(dir, knowledge.WithLogger(logging.From(ctx)))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open badger index", goerr.V("dir", dir))
		}
		return index, nil

	case "firestore":
		if cfg.firestoreProject == "" {
			return nil, goerr.New("firestore-project is required")
		}
		if cfg.firestoreDatabase == "" {
			return nil, goerr.New("firestore-database is required")
		}
		index, err := knowledge.NewFirestoreIndex(ctx, cfg.firestoreProject, cfg.firestoreDatabase, cfg.firestoreCollection)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create firestore index")
		}
		return index, nil

	default:
		return nil, goerr.New("unknown index backend", goerr.V("index", cfg.indexBackend))
	}
}

// newKnowledge creates the knowledge store. The caller closes it.
func (cfg *config) newKnowledge(ctx context.Context, embedder knowledge.Embedder, m *metrics.Metrics) (*knowledge.Store, error) {
	index, err := cfg.newIndex(ctx)
	if err != nil {
		return nil, err
	}

	return knowledge.New(index, embedder,
		knowledge.WithBatchSize(int(cfg.batchSize)),
		knowledge.WithBatchRate(cfg.batchRate),
		knowledge.WithMetrics(m),
	), nil
}

// newMemory creates the memory log, in Cloud Storage if a bucket is given
func (cfg *config) newMemory(ctx context.Context) (memory.Log, error) {
	if cfg.memoryBucket != "" {
		storage, err := adapter.NewStorage(ctx, cfg.memoryBucket)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create storage")
		}
		return memory.NewGCSLog(storage, cfg.memoryObject), nil
	}

	path := cfg.memoryPath
	if path == "" {
		path = filepath.Join(cfg.dataDir, "problem_memory.json")
	}
	log, err := memory.NewFileLog(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open memory file")
	}
	return log, nil
}

// newAudit creates the BigQuery audit sink. It returns nil when no project is set.
func (cfg *config) newAudit(ctx context.Context) (adapter.BigQuery, error) {
	if cfg.auditProject == "" {
		return nil, nil
	}

	bq, err := adapter.NewBigQuery(ctx, cfg.auditProject, adapter.WithAuditTable(cfg.auditDataset, cfg.auditTable))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create audit sink")
	}
	if err := bq.EnsureTable(ctx); err != nil {
		return nil, err
	}
	return bq, nil
}

// newUseCase wires every component. The returned function releases the
// knowledge store and must be called when the command finishes.
func (cfg *config) newUseCase(ctx context.Context, m *metrics.Metrics) (*mentor.UseCase, func(), error) {
	notation, err := agent.ParseNotation(cfg.notation)
	if err != nil {
		return nil, nil, err
	}

	llm, err := cfg.newLLM(ctx)
	if err != nil {
		return nil, nil, err
	}

	sb, err := sandbox.New(ctx)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create sandbox")
	}

	store, err := cfg.newKnowledge(ctx, llm, m)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if err := store.Close(); err != nil {
			logging.From(ctx).Warn("failed to close knowledge store", "error", err)
		}
	}

	log, err := cfg.newMemory(ctx)
	if err != nil {
		closer()
		return nil, nil, err
	}

	ag := agent.New(llm, sb, store,
		agent.WithNotation(notation),
		agent.WithRetrievalK(int(cfg.retrievalK)),
		agent.WithMetrics(m),
	)
	runner, err := graph.New(ag.Stages(), graph.WithMetrics(m))
	if err != nil {
		closer()
		return nil, nil, err
	}

	opts := []mentor.Option{
		mentor.WithLearning(cfg.learn),
		mentor.WithMetrics(m),
	}
	audit, err := cfg.newAudit(ctx)
	if err != nil {
		closer()
		return nil, nil, err
	}
	if audit != nil {
		opts = append(opts, mentor.WithAudit(audit))
	}

	uc := mentor.New(input.New(llm), runner, store, log, opts...)
	return uc, closer, nil
}
