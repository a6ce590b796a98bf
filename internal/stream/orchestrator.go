package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/alfan-chat/relay/internal/config"
	"github.com/alfan-chat/relay/internal/models"
	"github.com/alfan-chat/relay/internal/services/ai"
	"github.com/alfan-chat/relay/internal/services/cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Messages supplies the user-facing notices for a persona.
type Messages interface {
	ErrorMessage(persona string) string
	// CredentialMessage tells the user their Gemini key was refused.
	CredentialMessage(persona string) string
}

// Recorder receives stream metrics. *middleware.Metrics satisfies it.
type Recorder interface {
	StreamStarted()
	StreamFinished()
	RecordHeartbeat()
	RecordCacheHit()
	RecordCacheMiss()
	RecordChatOutcome(persona, outcome string)
}

// Options tunes the orchestrator.
type Options struct {
	QueueSize         int
	HeartbeatInterval time.Duration
	ChunkSize         int
	// TypingDelay is the simulated latency before a persona's first token.
	TypingDelay func(persona string) time.Duration
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		QueueSize:         cfg.Stream.QueueSize,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		ChunkSize:         cfg.Stream.ChunkSize,
		TypingDelay:       cfg.TypingDelay,
	}
}

// Session is one chat request, ready to stream.
type Session struct {
	Persona      string
	Messages     []models.Message
	SystemPrompt string
	Image        *models.Attachment
	Credential   string
	Key          cache.Key
	RequestID    string
}

// Orchestrator turns a chat session into an ordered frame stream.
type Orchestrator struct {
	generator ai.Generator
	policy    *ai.Policy
	cache     cache.Service
	messages  Messages
	recorder  Recorder
	opts      Options
	logger    *logrus.Logger
}

// NewOrchestrator wires the stream dependencies. recorder may be nil.
func NewOrchestrator(generator ai.Generator, policy *ai.Policy, c cache.Service, messages Messages, recorder Recorder, opts Options, logger *logrus.Logger) *Orchestrator {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 120
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Orchestrator{
		generator: generator,
		policy:    policy,
		cache:     c,
		messages:  messages,
		recorder:  recorder,
		opts:      opts,
		logger:    logger,
	}
}

// Run streams the session through emit until the done frame has been
// emitted, emit fails, or ctx ends. The producer and heartbeat goroutines
// have always exited by the time Run returns.
func (o *Orchestrator) Run(ctx context.Context, s Session, emit func(Frame) error) error {
	o.recorder.StreamStarted()
	defer o.recorder.StreamFinished()

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	queue := newFrameQueue(o.opts.QueueSize)
	produced := make(chan struct{})

	g.Go(func() error {
		defer close(produced)
		o.produce(gctx, s, queue)
		return nil
	})
	g.Go(func() error {
		o.heartbeat(gctx, queue, produced)
		return nil
	})

	err := o.consume(ctx, queue, emit)

	cancel()
	_ = g.Wait()
	return err
}

func (o *Orchestrator) consume(ctx context.Context, queue *frameQueue, emit func(Frame) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-queue.ch:
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := emit(f); err != nil {
				return fmt.Errorf("failed to emit %s frame: %w", f.Kind, err)
			}
			if f.Kind == FrameDone {
				return nil
			}
		}
	}
}

func (o *Orchestrator) heartbeat(ctx context.Context, queue *frameQueue, produced <-chan struct{}) {
	if o.opts.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(o.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-produced:
			return
		case <-ticker.C:
			if !queue.send(ctx, heartbeatFrame) {
				return
			}
			o.recorder.RecordHeartbeat()
		}
	}
}

// produce fills the queue for one session and always ends it with a done
// frame, unless ctx is gone and nobody is reading anymore.
func (o *Orchestrator) produce(ctx context.Context, s Session, queue *frameQueue) {
	log := o.logger.WithFields(logrus.Fields{
		"request_id": s.RequestID,
		"persona":    s.Persona,
	})
	outcome := "ok"

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Stream producer panicked")
			queue.send(ctx, Frame{Kind: FrameError, Data: o.messages.ErrorMessage(s.Persona)})
			outcome = "error"
		}
		queue.send(ctx, doneFrame)
		o.recorder.RecordChatOutcome(s.Persona, outcome)
		log.WithField("outcome", outcome).Debug("Stream finished")
	}()

	// A reset while this stream runs must keep its reply out of the cache.
	epoch := o.cache.Epoch()

	if s.Key.Cacheable() {
		if text, ok := o.cache.Get(ctx, s.Key); ok {
			o.recorder.RecordCacheHit()
			log.Info("Replaying cached reply")
			outcome = "cache"
			o.replay(ctx, s, text, queue)
			return
		}
		o.recorder.RecordCacheMiss()
	}

	text, err := o.generate(ctx, s, queue)
	if err != nil {
		if ctx.Err() != nil {
			outcome = "cancelled"
			return
		}
		notice := o.messages.ErrorMessage(s.Persona)
		outcome = "error"
		if errors.Is(err, ai.ErrCredentialRejected) {
			notice = o.messages.CredentialMessage(s.Persona)
			outcome = "credential"
		}
		log.WithError(err).WithField("outcome", outcome).Error("Streaming generation failed")
		queue.send(ctx, Frame{Kind: FrameError, Data: notice})
		return
	}

	text = strings.TrimSpace(text)
	if s.Key.Cacheable() && text != "" {
		stored, err := o.cache.SetAt(ctx, s.Key, text, epoch)
		if err != nil {
			log.WithError(err).Warn("Failed to cache reply")
		} else if !stored {
			log.Info("Cache was reset mid-stream, reply not cached")
		}
	}
}

func (o *Orchestrator) replay(ctx context.Context, s Session, text string, queue *frameQueue) {
	if err := sleepContext(ctx, o.typingDelay(s.Persona)); err != nil {
		return
	}
	for _, chunk := range chunkText(text, o.opts.ChunkSize) {
		if !queue.send(ctx, Frame{Kind: FrameToken, Data: chunk}) {
			return
		}
	}
}

// generate streams a live reply and returns the text that was delivered.
// Once a token has gone out the attempt is never retried.
func (o *Orchestrator) generate(ctx context.Context, s Session, queue *frameQueue) (string, error) {
	var (
		delivered strings.Builder
		started   bool
		delayed   bool
	)

	err := o.policy.Run(ctx, func(ctx context.Context, model string) error {
		stream, err := o.generator.Generate(ctx, ai.GenerateRequest{
			Model:        model,
			Messages:     s.Messages,
			SystemPrompt: s.SystemPrompt,
			Image:        s.Image,
			Credential:   s.Credential,
		})
		if err != nil {
			return err
		}
		defer stream.Close()

		var reconciler ai.Reconciler
		for {
			fragment, err := stream.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				if started {
					return ai.Halt(err)
				}
				return err
			}

			cleaned := ai.Sanitize(reconciler.Next(fragment))
			if cleaned == "" {
				continue
			}

			if !started {
				if !delayed {
					delayed = true
					if err := sleepContext(ctx, o.typingDelay(s.Persona)); err != nil {
						return ai.Halt(err)
					}
				}
				cleaned = strings.TrimLeftFunc(cleaned, unicode.IsSpace)
				if cleaned == "" {
					continue
				}
				started = true
			}

			if !queue.send(ctx, Frame{Kind: FrameToken, Data: cleaned}) {
				return ai.Halt(ctx.Err())
			}
			delivered.WriteString(cleaned)
		}
	})
	return delivered.String(), err
}

func (o *Orchestrator) typingDelay(persona string) time.Duration {
	if o.opts.TypingDelay == nil {
		return 0
	}
	return o.opts.TypingDelay(persona)
}

// chunkText splits text into pieces of at most size runes.
func chunkText(text string, size int) []string {
	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type nopRecorder struct{}

func (nopRecorder) StreamStarted()                   {}
func (nopRecorder) StreamFinished()                  {}
func (nopRecorder) RecordHeartbeat()                 {}
func (nopRecorder) RecordCacheHit()                  {}
func (nopRecorder) RecordCacheMiss()                 {}
func (nopRecorder) RecordChatOutcome(string, string) {}
