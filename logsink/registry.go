package logsink

import (
	"log/slog"
	"sync"

	"github.com/c360/natspad/errors"
)

// DefaultMainLabel is the label of the main channel.
const DefaultMainLabel = "NATS"

type subjectEntry struct {
	channel  Channel
	refCount int
}

// ChannelRegistry shares one Channel per subject between keys.
type ChannelRegistry struct {
	factory   ChannelFactory
	mainLabel string
	logger    *slog.Logger

	mu           sync.Mutex
	main         Channel
	subjects     map[string]*subjectEntry
	keyToSubject map[string]string
}

// NewChannelRegistry creates a registry. An empty mainLabel uses DefaultMainLabel.
func NewChannelRegistry(factory ChannelFactory, mainLabel string, logger *slog.Logger) *ChannelRegistry {
	if mainLabel == "" {
		mainLabel = DefaultMainLabel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelRegistry{
		factory:      factory,
		mainLabel:    mainLabel,
		logger:       logger.With("component", "logsink"),
		subjects:     make(map[string]*subjectEntry),
		keyToSubject: make(map[string]string),
	}
}

// Main returns the main channel, creating it on first use.
func (r *ChannelRegistry) Main() (Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.main == nil {
		ch, err := r.factory(r.mainLabel)
		if err != nil {
			return nil, errors.Wrap(err, "ChannelRegistry", "Main", "create main channel")
		}
		r.main = ch
	}
	return r.main, nil
}

// Acquire returns the channel for subject and records that key holds it.
// Acquiring again for a key already holding a channel releases the old one
// first.
func (r *ChannelRegistry) Acquire(subject, key string) (Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.keyToSubject[key]; ok {
		if prev == subject {
			return r.subjects[prev].channel, nil
		}
		r.releaseLocked(key)
	}

	entry, ok := r.subjects[subject]
	if !ok {
		ch, err := r.factory(r.mainLabel + " - " + subject)
		if err != nil {
			return nil, errors.Wrap(err, "ChannelRegistry", "Acquire", "create channel for "+subject)
		}
		entry = &subjectEntry{channel: ch}
		r.subjects[subject] = entry
	}
	entry.refCount++
	r.keyToSubject[key] = subject
	return entry.channel, nil
}

// Release drops key's hold on its channel, disposing it when no key remains.
// Unknown keys are ignored.
func (r *ChannelRegistry) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked(key)
}

func (r *ChannelRegistry) releaseLocked(key string) {
	subject, ok := r.keyToSubject[key]
	if !ok {
		return
	}
	delete(r.keyToSubject, key)

	entry, ok := r.subjects[subject]
	if !ok {
		return
	}
	entry.refCount--
	if entry.refCount <= 0 {
		entry.channel.Dispose()
		delete(r.subjects, subject)
		r.logger.Debug("Disposed subject channel", "subject", subject)
	}
}

// Subjects returns the number of live subject channels
func (r *ChannelRegistry) Subjects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subjects)
}

// DisposeAll disposes every channel, the main channel included.
func (r *ChannelRegistry) DisposeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.keyToSubject)
	for subject, entry := range r.subjects {
		entry.channel.Dispose()
		delete(r.subjects, subject)
	}
	if r.main != nil {
		r.main.Dispose()
		r.main = nil
	}
}
