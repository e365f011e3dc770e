// Package jobs runs the periodic analysis passes that read new channel history
// and feed the gauges.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/keshon/companion/internal/affect"
	"github.com/keshon/companion/internal/analysis"
	"github.com/keshon/companion/internal/audience"
	"github.com/keshon/companion/internal/chat"
	"github.com/keshon/companion/internal/config"
	"github.com/keshon/companion/internal/mind"
	"github.com/keshon/companion/internal/storage"
	"github.com/keshon/companion/pkg/eventbus"
	"github.com/keshon/companion/pkg/jobmgr"
	"github.com/keshon/companion/pkg/logx"
	"github.com/keshon/companion/pkg/util"
	"github.com/rs/zerolog"
)

// Job names, also used as history cursor names.
const (
	JobFlow       = "flow"
	JobEmotion    = "emotion"
	JobVolition   = "volition"
	JobMemory     = "memory"
	JobVocabulary = "vocabulary"
)

// KeywordBoost is the weight a vocabulary word gains each time analysis sees it.
const KeywordBoost = 15.0

type Config struct {
	FlowInterval     time.Duration `env:"FLOW_JOB_INTERVAL" envDefault:"1m"`
	EmotionInterval  time.Duration `env:"EMOTION_JOB_INTERVAL" envDefault:"1m"`
	VolitionInterval time.Duration `env:"VOLITION_JOB_INTERVAL" envDefault:"2m"`
	MemoryInterval   time.Duration `env:"MEMORY_JOB_INTERVAL" envDefault:"10m"`
	PruneInterval    time.Duration `env:"VOCABULARY_PRUNE_INTERVAL" envDefault:"1h"`

	FlowMinNew     int `env:"FLOW_MIN_NEW" envDefault:"3"`
	FlowBatch      int `env:"FLOW_BATCH" envDefault:"100"`
	EmotionMinNew  int `env:"EMOTION_MIN_NEW" envDefault:"10"`
	EmotionContext int `env:"EMOTION_CONTEXT" envDefault:"100"`
	EmotionBatch   int `env:"EMOTION_BATCH" envDefault:"200"`
	VolitionBatch  int `env:"VOLITION_BATCH" envDefault:"50"`
	MemoryMinNew   int `env:"MEMORY_MIN_NEW" envDefault:"30"`
	MemoryBatch    int `env:"MEMORY_BATCH" envDefault:"200"`
	Workers        int `env:"JOB_WORKERS" envDefault:"4"`
}

func DefaultConfig() Config {
	return Config{
		FlowInterval:     time.Minute,
		EmotionInterval:  time.Minute,
		VolitionInterval: 2 * time.Minute,
		MemoryInterval:   10 * time.Minute,
		PruneInterval:    time.Hour,
		FlowMinNew:       3,
		FlowBatch:        100,
		EmotionMinNew:    10,
		EmotionContext:   100,
		EmotionBatch:     200,
		VolitionBatch:    50,
		MemoryMinNew:     30,
		MemoryBatch:      200,
		Workers:          4,
	}
}

// Analyzer is the model side of the jobs. *analysis.Analyzer implements it.
type Analyzer interface {
	AnalyzeFlow(ctx context.Context, interests, topic string, msgs []chat.Message) (analysis.FlowAnalysis, error)
	AnalyzeEmotion(ctx context.Context, persona string, earlier, fresh []chat.Message) (affect.PAD, error)
	AnalyzeStimulus(ctx context.Context, name, interests, mood string, msgs []chat.Message) (analysis.StimulusAnalysis, error)
	Summarize(ctx context.Context, previous string, msgs []chat.Message) (analysis.MemoryUpdate, error)
}

// Deps are the collaborators of a Runner. Audience may be nil.
type Deps struct {
	Repo     *storage.Repository
	Mind     *mind.Mind
	Bus      *eventbus.Bus
	Analyzer Analyzer
	Personas *config.Personas
	Submit   mind.Submitter
	Audience *audience.Book
}

// Runner owns the job loops. Each job skips a tick while its previous run is still going.
type Runner struct {
	cfg  Config
	deps Deps
	jm   *jobmgr.Manager
	now  func() time.Time
	log  zerolog.Logger

	mu     sync.Mutex
	topics map[chat.Key]string
}

func New(cfg Config, deps Deps) *Runner {
	return &Runner{
		cfg:    cfg,
		deps:   deps,
		jm:     jobmgr.NewManager(nil),
		now:    time.Now,
		log:    logx.With("jobs"),
		topics: make(map[chat.Key]string),
	}
}

// Start schedules every job on its interval until ctx is done.
func (r *Runner) Start(ctx context.Context) error {
	for _, j := range []struct {
		name     string
		interval time.Duration
		run      func(context.Context) error
	}{
		{JobFlow, r.cfg.FlowInterval, r.RunFlow},
		{JobEmotion, r.cfg.EmotionInterval, r.RunEmotion},
		{JobVolition, r.cfg.VolitionInterval, r.RunVolition},
		{JobMemory, r.cfg.MemoryInterval, r.RunMemory},
		{JobVocabulary, r.cfg.PruneInterval, r.RunPrune},
	} {
		if err := r.jm.Every(ctx, j.name, j.interval, j.run); err != nil {
			return fmt.Errorf("start %s job: %w", j.name, err)
		}
	}
	r.log.Info().Str("jobs", r.jm.Status()).Msg("jobs scheduled")
	return nil
}

// Wait blocks until every job loop has returned.
func (r *Runner) Wait() {
	r.jm.Wait()
}

// Status lists the jobs currently scheduled or running.
func (r *Runner) Status() string {
	return r.jm.Status()
}

// exclusive runs fn unless a run of the same job is in progress.
func (r *Runner) exclusive(ctx context.Context, name string, fn func(context.Context) error) error {
	err := r.jm.TryRun(ctx, name+":run", fn)
	if errors.Is(err, jobmgr.ErrRunning) {
		r.log.Debug().Str("job", name).Msg("previous run still active, skipped")
		return nil
	}
	return err
}

// forEachKey calls fn for every conversation of every persona with history.
// A failing conversation is logged and does not stop the others.
func (r *Runner) forEachKey(ctx context.Context, job string, fn func(context.Context, config.Persona, chat.Key) error) error {
	type item struct {
		p   config.Persona
		key chat.Key
	}
	var items []item
	for _, p := range r.deps.Personas.All() {
		keys, err := r.deps.Repo.Keys(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("%s: list channels: %w", job, err)
		}
		for _, k := range keys {
			if p.AllowsChannel(k.ChannelID) {
				items = append(items, item{p, k})
			}
		}
	}
	return util.Parallel(ctx, items, r.cfg.Workers, func(ctx context.Context, it item) error {
		if err := fn(ctx, it.p, it.key); err != nil && ctx.Err() == nil {
			r.log.Error().Err(err).Str("job", job).Str("key", it.key.String()).Msg("job failed for channel")
		}
		return nil
	})
}

func (r *Runner) topic(key chat.Key) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.topics[key]
}

func (r *Runner) setTopic(key chat.Key, topic string) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics[key] = topic
}

func lastSeq(msgs []chat.Message) int64 {
	return msgs[len(msgs)-1].Seq
}
