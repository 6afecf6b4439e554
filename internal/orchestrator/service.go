package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hionago/internal/domain"
	"hionago/internal/llm"
	"hionago/internal/screen"
	"hionago/internal/settings"
)

const (
	strictRule = "\n### 翻译铁律: 中文回复中，“一柳和”必须称呼为“阿和”，禁止带任何“先生”后缀。日语「和さん」一律翻译为「阿和」。\n"

	greetingText   = "（打个招呼）"
	offlineToast   = "😵 AI 暂时断线了..."
	perceiveMarker = "打个招呼"
)

// Resolver maps a raw emotion tag to an asset code for one character.
type Resolver interface {
	Resolve(speaker domain.CharacterID, rawTag string) string
}

// AssetLookup maps (character, code) to an asset file name.
type AssetLookup interface {
	Lookup(speaker domain.CharacterID, code string) string
}

// Transcript is the persistent conversation log.
type Transcript interface {
	AppendTurn(input string, lines []domain.DialogueLine) error
	TailLines(n int) string
}

// ScriptParser turns raw model output into dialogue lines.
type ScriptParser interface {
	Parse(raw string) []domain.DialogueLine
}

// Starter receives completed turns for playback. Stop clears whatever
// is currently on stage.
type Starter interface {
	Start(domain.Turn)
	Stop()
}

// Service drives one turn from user input to a playable line sequence:
// prompt assembly, the model call, script parsing, emotion and asset
// resolution, transcript persistence, then handoff to playback. Turns
// are processed asynchronously; only the most recently submitted turn
// may complete, older in-flight ones are discarded on arrival.
type Service struct {
	store       *settings.Store
	resolver    Resolver
	assets      AssetLookup
	transcript  Transcript
	sequencer   Starter
	publish     func(domain.Event)
	weatherLine func(ctx context.Context) string
	newParser   func(settings.Snapshot) ScriptParser
	providerFor func(settings.Snapshot) llm.Provider
	now         func() time.Time
	timeout     time.Duration
	logger      *slog.Logger

	seq atomic.Uint64

	mu          sync.Mutex
	windowTitle string
	lastTurn    domain.Turn
}

func NewService(
	store *settings.Store,
	resolver Resolver,
	assets AssetLookup,
	transcript Transcript,
	sequencer Starter,
	publish func(domain.Event),
	weatherLine func(ctx context.Context) string,
	newParser func(settings.Snapshot) ScriptParser,
	providerFor func(settings.Snapshot) llm.Provider,
	timeout time.Duration,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:       store,
		resolver:    resolver,
		assets:      assets,
		transcript:  transcript,
		sequencer:   sequencer,
		publish:     publish,
		weatherLine: weatherLine,
		newParser:   newParser,
		providerFor: providerFor,
		now:         time.Now,
		timeout:     timeout,
		logger:      logger,
	}
}

// SetWindowTitle records the latest foreground window title reported by
// the watcher. Used when a perceive turn arrives without one.
func (s *Service) SetWindowTitle(title string) {
	s.mu.Lock()
	s.windowTitle = title
	s.mu.Unlock()
}

// LastTurn returns the most recently completed turn, for archiving.
func (s *Service) LastTurn() (domain.Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTurn, s.lastTurn.ID != 0
}

// Submit queues a turn and returns its id immediately. An empty request
// with no forced speaker is rejected. Accepting a turn silences the
// previous one on the spot: its pending line timer and unplayed queue
// are cleared before the new model call even starts, so stale lines can
// not keep advancing while the reply is in flight.
func (s *Service) Submit(req domain.TurnRequest) (uint64, error) {
	if req.WindowTitle == "" {
		s.mu.Lock()
		req.WindowTitle = s.windowTitle
		s.mu.Unlock()
	}

	if strings.TrimSpace(req.Text) == "" && req.Forced == "" && req.WindowTitle == "" {
		return 0, fmt.Errorf("empty turn request")
	}

	s.sequencer.Stop()

	id := s.seq.Add(1)
	go s.run(id, req)
	return id, nil
}

func (s *Service) run(id uint64, req domain.TurnRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	snap := s.store.Current()
	mode := snap.Mode(req.Mode)

	text := strings.TrimSpace(req.Text)
	perceive := req.WindowTitle != "" && (text == "" || strings.Contains(text, perceiveMarker))
	trigger := domain.TriggerDirect
	if perceive {
		trigger = domain.TriggerPerceive
	}
	if text == "" {
		text = greetingText
	}

	system := s.buildSystemPrompt(ctx, snap, mode, req, perceive)
	user := fmt.Sprintf("【历史记录】:\n%s\n\n【当前输入】: %s", s.transcript.TailLines(mode.ContextLimit), text)

	raw, err := s.providerFor(snap).Complete(ctx, domain.LLMRequest{
		Model:       snap.LLMModel,
		System:      system,
		User:        user,
		Temperature: mode.Temperature,
	})
	if err != nil {
		s.logger.Error("model call failed", "turn", id, "error", err)
		s.failTurn(id, text, req, trigger)
		return
	}

	lines := s.newParser(snap).Parse(raw)
	for i := range lines {
		code := s.resolver.Resolve(lines[i].Speaker, lines[i].RawEmotion)
		lines[i].Code = code
		lines[i].AssetFile = s.assets.Lookup(lines[i].Speaker, code)
	}

	// A newer submission preempts this one; its result is dropped even
	// though the model already answered.
	if id != s.seq.Load() {
		s.logger.Info("discarding stale turn", "turn", id, "latest", s.seq.Load())
		return
	}

	if len(lines) == 0 {
		s.logger.Warn("model produced no usable script", "turn", id)
		s.failTurn(id, text, req, trigger)
		return
	}

	turn := domain.Turn{
		ID:      id,
		Input:   text,
		Forced:  req.Forced,
		Mode:    req.Mode,
		Trigger: trigger,
		Lines:   lines,
	}

	if err := s.transcript.AppendTurn(text, lines); err != nil {
		s.logger.Warn("transcript append failed", "turn", id, "error", err)
	}

	s.mu.Lock()
	s.lastTurn = turn
	s.mu.Unlock()

	s.publish(domain.TurnCompleted{Turn: turn})
	s.sequencer.Start(turn)
}

// failTurn closes out a failed or contentless turn: a zero-line
// completion plus the offline toast. Nothing reaches the transcript or
// playback, and the user is expected to retry by hand.
func (s *Service) failTurn(id uint64, text string, req domain.TurnRequest, trigger domain.TriggerKind) {
	if id != s.seq.Load() {
		return
	}
	s.publish(domain.TurnCompleted{Turn: domain.Turn{
		ID:      id,
		Input:   text,
		Forced:  req.Forced,
		Mode:    req.Mode,
		Trigger: trigger,
	}})
	s.publish(domain.Toast{Message: offlineToast})
}

// buildSystemPrompt assembles the strict naming rule, the environment
// header, the persona template with character profiles substituted in,
// and the numbered behavior rules.
func (s *Service) buildSystemPrompt(ctx context.Context, snap settings.Snapshot, mode domain.ModeParams, req domain.TurnRequest, perceive bool) string {
	env := fmt.Sprintf("\n[环境: %s %s 现在时间 %s]\n", snap.City, s.weatherLine(ctx), s.now().Format("15:04"))

	persona := snap.PromptTemplate
	for _, c := range snap.Roster.Characters {
		persona = strings.ReplaceAll(persona, c.Placeholder, c.Profile)
	}

	firstRule := "当前是普通的日常对话，请正常回应。"
	if perceive {
		firstRule = fmt.Sprintf(
			"### [环境感知指令]\n你发现用户正在使用窗口：【%s】（%s）。\n请以此开启话题，不要只说‘欢迎回来’。如果是编程工具就调侃代码，是网页就问在看什么，语气要符合人设。",
			req.WindowTitle, screen.ContextHint(req.WindowTitle))
	}

	var b strings.Builder
	b.WriteString(strictRule)
	b.WriteString(env)
	b.WriteString(persona)
	b.WriteString("\n\n### [行为准则]\n")
	fmt.Fprintf(&b, "1. %s\n", firstRule)
	b.WriteString("2. 必须返回 JSON 数组，严禁包含任何 Markdown 标记。\n")
	b.WriteString("3. 字段包含: \"speaker\", \"emotion\", \"ja\", \"zh\"。\n")
	b.WriteString("4. \"zh\" 字段必须保留括号内的动作描写（例如：\"(轻笑)还在忙吗？\"）。\n")
	fmt.Fprintf(&b, "5. %s\n", mode.Desc)

	if req.Forced != "" {
		name := string(req.Forced)
		if c, ok := snap.Roster.ByID(req.Forced); ok {
			name = c.Name
		}
		fmt.Fprintf(&b, "6. 本轮由 %s 先开口回应。\n", name)
	}
	return b.String()
}
