package extract

import (
	"context"
	"log"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"
)

const systemInstruction = `你是會議記錄助手。請從會議對話中提取明確的行動項目（action items）。
只提取明確需要執行的任務，排除閒聊與一般討論。
只輸出 JSON，格式固定為：
{"tasks": [{"content": "任務內容", "assignee": "負責人（可選）", "priority": "high|normal|low（可選）", "due_date": "YYYY-MM-DD（可選）", "type": "任務類型（可選）"}]}
沒有行動項目時輸出 {"tasks": []}。`

// Candidate is an unvalidated task proposal from the inference service.
// Content is the only mandatory field; everything else is advisory and the
// caller normalizes it.
type Candidate struct {
	Content  string
	Assignee string
	Priority string
	DueDate  string
	Type     string
}

type Pipeline struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func NewPipeline(cfg Config) *Pipeline {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Pipeline{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		timeout: timeout,
	}
}

// Extract turns a transcript into zero or more candidates. Every failure mode
// of the external call (transport, timeout, malformed output) degrades to an
// empty result; extraction never surfaces an error to the caller.
func (p *Pipeline) Extract(ctx context.Context, transcript string) []Candidate {
	if strings.TrimSpace(transcript) == "" {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	completion, err := p.client.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemInstruction),
			openai.UserMessage(transcript),
		},
	})
	if err != nil {
		log.Printf("[Extract] inference call failed: %v", err)
		return nil
	}
	if len(completion.Choices) == 0 {
		log.Printf("[Extract] inference response has no choices")
		return nil
	}
	return parseCandidates(completion.Choices[0].Message.Content)
}

// parseCandidates validates the exact {tasks: [...]} shape. Anything else is
// treated as extraction failure and yields nil.
func parseCandidates(raw string) []Candidate {
	raw = stripCodeFence(raw)
	if !gjson.Valid(raw) {
		log.Printf("[Extract] response is not valid JSON")
		return nil
	}
	tasks := gjson.Get(raw, "tasks")
	if !tasks.Exists() || !tasks.IsArray() {
		log.Printf("[Extract] response is missing the tasks array")
		return nil
	}

	items := make([]Candidate, 0)
	tasks.ForEach(func(_, item gjson.Result) bool {
		content := strings.TrimSpace(item.Get("content").String())
		if content == "" {
			// content is mandatory per candidate; discard silently
			return true
		}
		items = append(items, Candidate{
			Content:  content,
			Assignee: strings.TrimSpace(item.Get("assignee").String()),
			Priority: strings.TrimSpace(item.Get("priority").String()),
			DueDate:  strings.TrimSpace(item.Get("due_date").String()),
			Type:     strings.TrimSpace(item.Get("type").String()),
		})
		return true
	})
	return items
}

func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
