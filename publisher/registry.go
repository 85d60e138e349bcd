package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/logtide/logtide/cfg"
	"github.com/logtide/logtide/logmsg"
)

// RegistryStats is a point-in-time view of one worker's counters.
type RegistryStats struct {
	Published uint64
	Filtered  uint64
	Dropped   uint64
	Queued    int
}

// Registry owns the sink workers and the dispatcher that fans records
// out to them. Every worker sees every record; filters narrow from
// there.
type Registry struct {
	workers []*Worker
	running atomic.Bool
	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewRegistry builds a registry with one worker per sink configuration.
func NewRegistry(sinkConfigs []cfg.SinkConfiguration) (*Registry, error) {
	r := &Registry{stopCh: make(chan struct{})}

	for _, sinkCfg := range sinkConfigs {
		if err := r.AddSink(sinkCfg); err != nil {
			r.closeSinks()
			return nil, fmt.Errorf("failed to add sink %q: %w", sinkCfg.Name, err)
		}
	}

	log.Info().Int("workers", len(r.workers)).Msg("Publisher registry initialized")
	return r, nil
}

// AddSink creates a worker for the given sink configuration. Sinks can
// only be added before the registry starts.
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("cannot add sink while registry is running")
	}

	snk, err := createSink(config)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	if config.Compression == "zstd" {
		snk, err = NewZstdSink(snk)
		if err != nil {
			snk.Close()
			return fmt.Errorf("failed to enable compression: %w", err)
		}
	}

	format := config.Format
	if format == "" {
		format = "json"
	}
	trans, err := createTransformer(format)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create transformer: %w", err)
	}

	filter, err := NewGlobFilter(config.FilterTabs, config.FilterDBs)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create filter: %w", err)
	}

	worker, err := NewWorker(WorkerConfig{
		Name:            config.Name,
		Sink:            snk,
		Transformer:     trans,
		Filter:          filter,
		TopicPrefix:     config.TopicPrefix,
		BufferSize:      config.BufferSize,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
		MaxRetries:      config.MaxRetries,
	})
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create worker: %w", err)
	}

	r.workers = append(r.workers, worker)

	log.Info().
		Str("sink", config.Name).
		Str("type", config.Type).
		Str("format", config.Format).
		Str("compression", config.Compression).
		Msg("Added publisher sink")

	return nil
}

// Start begins fanning records out to the workers. The dispatcher runs
// until Stop is called or the records channel closes.
func (r *Registry) Start(records <-chan *logmsg.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("registry already running")
	}

	log.Info().Int("workers", len(r.workers)).Msg("Starting publisher registry")

	for _, worker := range r.workers {
		worker.Start()
	}

	r.wg.Add(1)
	go r.dispatchLoop(records)

	r.running.Store(true)
	return nil
}

// Stop halts dispatch, then stops every worker. Workers flush their
// buffers on the way down.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Swap(false) {
		return
	}

	close(r.stopCh)
	r.wg.Wait()

	for _, worker := range r.workers {
		worker.Stop()
	}

	log.Info().Msg("Publisher registry stopped")
}

// SinkQueueDepths returns current fan-out buffer occupancy per sink.
func (r *Registry) SinkQueueDepths() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]int, len(r.workers))
	for _, worker := range r.workers {
		out[worker.config.Name] = worker.Queued()
	}
	return out
}

// Stats returns per-sink counters keyed by worker name.
func (r *Registry) Stats() map[string]RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]RegistryStats, len(r.workers))
	for _, worker := range r.workers {
		out[worker.config.Name] = RegistryStats{
			Published: worker.Published(),
			Filtered:  worker.Filtered(),
			Dropped:   worker.Dropped(),
			Queued:    worker.Queued(),
		}
	}
	return out
}

func (r *Registry) dispatchLoop(records <-chan *logmsg.Record) {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			return
		case rec, ok := <-records:
			if !ok {
				log.Info().Msg("Record stream closed, publisher dispatch ending")
				return
			}
			for _, worker := range r.workers {
				worker.enqueue(rec)
			}
		}
	}
}

// closeSinks releases sinks of workers that never started. Used on
// construction failure.
func (r *Registry) closeSinks() {
	for _, worker := range r.workers {
		worker.config.Sink.Close()
	}
}

// SinkFactory is a function that creates a Sink from a configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

// TransformerFactory is a function that creates a Transformer
type TransformerFactory func() Transformer

var (
	sinkFactories        = make(map[string]SinkFactory)
	transformerFactories = make(map[string]TransformerFactory)
	factoryMu            sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// RegisterTransformer registers a transformer factory for a format
func RegisterTransformer(format string, factory TransformerFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	transformerFactories[format] = factory
}

func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}
	return factory(config)
}

func createTransformer(format string) (Transformer, error) {
	factoryMu.RLock()
	factory, exists := transformerFactories[format]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown format: %s", format)
	}
	return factory(), nil
}
