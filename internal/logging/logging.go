// Package logging provides categorized loggers for the conversation
// pipeline and knowledge engine, backed by zap. Each subsystem logs
// under its own category so a noisy stage can be filtered out without
// losing the rest.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a logging subsystem.
type Category string

const (
	CategoryAgent     Category = "agent"     // pipeline stages, routing decisions
	CategoryKnowledge Category = "knowledge" // loading, chunking, change detection
	CategoryRetrieval Category = "retrieval" // strategy selection, query ranking
	CategoryStore     Category = "store"     // state store, vector index
	CategoryLLM       Category = "llm"       // LLM collaborator calls
	CategoryEmbedding Category = "embedding" // embedding engine calls
)

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	loggers = make(map[Category]*zap.SugaredLogger)
)

// Initialize installs the process-wide root logger. Debug enables
// development encoding and debug-level output; otherwise production
// JSON at info level. Safe to call more than once; later calls replace
// the root and drop cached category loggers.
func Initialize(debug bool) error {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	root = logger
	loggers = make(map[Category]*zap.SugaredLogger)
	return nil
}

// Get returns the sugared logger for a category.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	l := root.Named(string(cat)).Sugar()
	loggers[cat] = l
	return l
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}

// Printf-style helpers, one pair per category the hot paths use.

func Agent(format string, args ...interface{})          { Get(CategoryAgent).Infof(format, args...) }
func AgentDebug(format string, args ...interface{})     { Get(CategoryAgent).Debugf(format, args...) }
func Knowledge(format string, args ...interface{})      { Get(CategoryKnowledge).Infof(format, args...) }
func KnowledgeDebug(format string, args ...interface{}) { Get(CategoryKnowledge).Debugf(format, args...) }
func Retrieval(format string, args ...interface{})      { Get(CategoryRetrieval).Infof(format, args...) }
func RetrievalDebug(format string, args ...interface{}) { Get(CategoryRetrieval).Debugf(format, args...) }
func Store(format string, args ...interface{})          { Get(CategoryStore).Infof(format, args...) }
func StoreDebug(format string, args ...interface{})     { Get(CategoryStore).Debugf(format, args...) }
func LLM(format string, args ...interface{})            { Get(CategoryLLM).Infof(format, args...) }
func LLMDebug(format string, args ...interface{})       { Get(CategoryLLM).Debugf(format, args...) }
func Embedding(format string, args ...interface{})      { Get(CategoryEmbedding).Infof(format, args...) }
func EmbeddingDebug(format string, args ...interface{}) { Get(CategoryEmbedding).Debugf(format, args...) }
