package command

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"minuteman/app/core/orchestrator/extract"
	"minuteman/app/core/orchestrator/permission"
	"minuteman/app/core/orchestrator/session"
	"minuteman/app/core/orchestrator/task"
	"minuteman/app/pkg/types"
)

const (
	cmdStartMeeting = "開始會議"
	cmdSummarize    = "會議總結"
	cmdTaskList     = "任務列表"
	cmdStats        = "統計"
	cmdHelp         = "幫助"
	prefixComplete  = "完成"
	prefixAssign    = "指派角色"
	keywordOverview = "任務總覽"
)

type Extractor interface {
	Extract(ctx context.Context, transcript string) []extract.Candidate
}

// ProfileResolver looks up a user's display name from the transport platform.
// Lookup failures are absorbed; the dispatcher falls back to the inbound
// event's display name.
type ProfileResolver interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

type Dispatcher struct {
	perms     *permission.Store
	tasks     *task.Store
	recorder  *session.Recorder
	extractor Extractor
	profiles  ProfileResolver
	rules     []rule
}

type event struct {
	msg  types.Message
	role permission.Role
	name string
}

type rule struct {
	match  func(text string) bool
	handle func(ctx context.Context, ev event) (string, error)
}

func NewDispatcher(perms *permission.Store, tasks *task.Store, recorder *session.Recorder, extractor Extractor) *Dispatcher {
	d := &Dispatcher{
		perms:     perms,
		tasks:     tasks,
		recorder:  recorder,
		extractor: extractor,
	}
	// Evaluated in fixed priority order: exact phrases, then prefixes, then
	// the substring rule. Precedence is explicit here, not incidental.
	d.rules = []rule{
		{matchExact(cmdStartMeeting), d.handleStartMeeting},
		{matchExact(cmdSummarize), d.handleSummarize},
		{matchExact(cmdTaskList), d.handleTaskList},
		{matchExact(cmdStats), d.handleStats},
		{matchExact(cmdHelp), d.handleHelp},
		{matchPrefix(prefixComplete), d.handleComplete},
		{matchPrefix(prefixAssign), d.handleAssignRole},
		{matchContains(keywordOverview), d.handleOverview},
	}
	return d
}

func (d *Dispatcher) SetProfileResolver(resolver ProfileResolver) {
	d.profiles = resolver
}

// Dispatch interprets one inbound event and returns the response text, empty
// for silence. Errors returned here are persistence-level; the gateway
// translates them into the generic busy response.
func (d *Dispatcher) Dispatch(ctx context.Context, msg types.Message) (string, error) {
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return "", nil
	}

	ev := event{
		msg:  msg,
		role: d.perms.GetRole(ctx, msg.UserID),
		name: d.resolveName(ctx, msg),
	}

	for _, r := range d.rules {
		if r.match(text) {
			return r.handle(ctx, ev)
		}
	}

	// Passive dialogue: buffered when a recording window is open, otherwise
	// dropped. There is no catch-all error response.
	d.recorder.Record(msg.Scope, msg.UserID, ev.name, text)
	return "", nil
}

func (d *Dispatcher) handleStartMeeting(ctx context.Context, ev event) (string, error) {
	if !ev.role.CanStartMeeting() {
		// Observed behavior: insufficient-role session start is ignored
		// silently, unlike the other gated commands.
		return "", nil
	}
	d.recorder.Start(ev.msg.Scope)
	return "📝 會議記錄開始，我會記下大家的發言。\n結束時請輸入「" + cmdSummarize + "」。", nil
}

func (d *Dispatcher) handleSummarize(ctx context.Context, ev event) (string, error) {
	entries, err := d.recorder.End(ev.msg.Scope)
	if errors.Is(err, session.ErrNoSession) || len(entries) == 0 {
		return "沒有找到會議記錄，請先輸入「" + cmdStartMeeting + "」。", nil
	}

	candidates := d.extractor.Extract(ctx, transcript(entries))
	created := d.createAll(ctx, ev, candidates)
	if len(created) == 0 {
		return "✅ 會議總結完成，沒有發現需要追蹤的行動項目。", nil
	}

	var b strings.Builder
	b.WriteString("✅ 會議總結完成，共建立 ")
	b.WriteString(strconv.Itoa(len(created)))
	b.WriteString(" 項任務：\n")
	for i, t := range created {
		b.WriteString(formatTaskLine(i+1, t))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// createAll persists every valid candidate concurrently. Creations are
// independent; one failure never suppresses the rest, and partial success is
// not separately reported.
func (d *Dispatcher) createAll(ctx context.Context, ev event, candidates []extract.Candidate) []task.Task {
	results := make([]task.Task, len(candidates))
	ok := make([]bool, len(candidates))

	var g errgroup.Group
	var mu sync.Mutex
	for i, cand := range candidates {
		i, cand := i, cand
		if strings.TrimSpace(cand.Content) == "" {
			continue
		}
		g.Go(func() error {
			t, err := d.tasks.Create(ctx, ev.msg.Scope, ev.msg.UserID, ev.name, task.CreateFields{
				Content:      cand.Content,
				AssigneeName: cand.Assignee,
				Priority:     task.ParsePriority(cand.Priority),
				DueDate:      validDueDate(cand.DueDate),
			})
			if err != nil {
				log.Printf("[Command] bulk create failed: %v", err)
				return err
			}
			mu.Lock()
			results[i] = t
			ok[i] = true
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	created := make([]task.Task, 0, len(candidates))
	for i := range results {
		if ok[i] {
			created = append(created, results[i])
		}
	}
	return created
}

func (d *Dispatcher) handleTaskList(ctx context.Context, ev event) (string, error) {
	items, err := d.tasks.List(ctx, ev.msg.Scope, task.FilterAll)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "目前沒有任務 🎉", nil
	}
	var b strings.Builder
	b.WriteString("📋 任務列表：\n")
	for i, t := range items {
		b.WriteString(formatTaskLine(i+1, t))
		b.WriteString("\n")
	}
	b.WriteString("輸入「完成 編號」可完成任務")
	return b.String(), nil
}

func (d *Dispatcher) handleStats(ctx context.Context, ev event) (string, error) {
	stats, err := d.tasks.Stats(ctx, ev.msg.Scope)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("📊 任務統計\n")
	b.WriteString("總計：" + strconv.Itoa(stats.Total) + "\n")
	b.WriteString("已完成：" + strconv.Itoa(stats.Completed) + "\n")
	b.WriteString("待辦：" + strconv.Itoa(stats.Pending) + "\n")
	b.WriteString("逾期：" + strconv.Itoa(stats.Overdue) + "\n")
	b.WriteString("高優先待辦：" + strconv.Itoa(stats.HighPriorityPending) + "\n")
	b.WriteString("完成率：" + strconv.Itoa(stats.CompletionRate) + "%")
	return b.String(), nil
}

func (d *Dispatcher) handleComplete(ctx context.Context, ev event) (string, error) {
	arg := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(ev.msg.Content), prefixComplete))
	n, err := strconv.Atoi(arg)
	if err != nil || n <= 0 {
		return "請輸入任務編號，例如：完成 1", nil
	}

	items, err := d.tasks.List(ctx, ev.msg.Scope, task.FilterAll)
	if err != nil {
		return "", err
	}
	if n > len(items) {
		return "沒有找到任務編號 " + strconv.Itoa(n), nil
	}

	target := items[n-1]
	completed, err := d.tasks.Complete(ctx, target.ID, ev.msg.UserID, ev.name)
	switch {
	case errors.Is(err, task.ErrAlreadyCompleted):
		return "任務「" + completed.Content + "」已經完成過了", nil
	case errors.Is(err, task.ErrNotFound):
		return "沒有找到任務編號 " + strconv.Itoa(n), nil
	case err != nil:
		return "", err
	}
	return "✅ 已完成任務：" + completed.Content, nil
}

func (d *Dispatcher) handleAssignRole(ctx context.Context, ev event) (string, error) {
	args := strings.Fields(strings.TrimPrefix(strings.TrimSpace(ev.msg.Content), prefixAssign))
	if len(args) < 2 {
		return "用法：指派角色 使用者ID 角色（super_admin/dept_manager/group_admin/member）", nil
	}
	targetID := args[0]
	newRole, ok := permission.ParseRole(args[1])
	if !ok {
		return "未知的角色：" + args[1], nil
	}

	err := d.perms.SetRole(ctx, ev.role, targetID, "", newRole)
	if errors.Is(err, permission.ErrForbidden) {
		return "權限不足，只有超級管理員可以指派角色", nil
	}
	if err != nil {
		return "", err
	}
	return "已將 " + targetID + " 的角色設為 " + string(newRole), nil
}

func (d *Dispatcher) handleOverview(ctx context.Context, ev event) (string, error) {
	if !ev.role.CanViewCrossScope() {
		return "權限不足，無法查看任務總覽", nil
	}

	dept := d.perms.GetDepartment(ctx, ev.msg.UserID)
	items, err := d.tasks.CrossScopeList(ctx, ev.msg.UserID, ev.role, dept)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "目前沒有任務", nil
	}

	var b strings.Builder
	b.WriteString("📋 任務總覽：\n")
	for i, t := range items {
		b.WriteString(formatTaskLine(i+1, t))
		b.WriteString("（" + t.Scope.Key() + "）\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (d *Dispatcher) handleHelp(ctx context.Context, ev event) (string, error) {
	var b strings.Builder
	b.WriteString("🤖 指令說明\n")
	b.WriteString(cmdStartMeeting + "：開始記錄會議（管理員）\n")
	b.WriteString(cmdSummarize + "：結束記錄並整理行動項目\n")
	b.WriteString(cmdTaskList + "：查看本對話的任務\n")
	b.WriteString("完成 編號：完成指定任務\n")
	b.WriteString(cmdStats + "：查看任務統計\n")
	b.WriteString(keywordOverview + "：跨對話任務總覽（部門主管）\n")
	b.WriteString(prefixAssign + " 使用者ID 角色：指派角色（超級管理員）")
	return b.String(), nil
}

func (d *Dispatcher) resolveName(ctx context.Context, msg types.Message) string {
	if d.profiles != nil {
		name, err := d.profiles.DisplayName(ctx, msg.UserID)
		if err == nil && strings.TrimSpace(name) != "" {
			return name
		}
		if err != nil {
			log.Printf("[Command] profile lookup failed for %s: %v", msg.UserID, err)
		}
	}
	if strings.TrimSpace(msg.DisplayName) != "" {
		return msg.DisplayName
	}
	return msg.UserID
}

func transcript(entries []session.Entry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.DisplayName)
		b.WriteString(": ")
		b.WriteString(e.Message)
		b.WriteString("\n")
	}
	return b.String()
}

func formatTaskLine(rank int, t task.Task) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(rank))
	b.WriteString(". ")
	if t.Status == task.StatusCompleted {
		b.WriteString("✔ ")
	}
	b.WriteString("[" + priorityLabel(t.Priority) + "] ")
	b.WriteString(t.Content)
	if t.AssigneeName != "" {
		b.WriteString(" @" + t.AssigneeName)
	}
	if t.DueDate != "" {
		b.WriteString("（" + t.DueDate + " 前）")
	}
	return b.String()
}

func priorityLabel(p task.Priority) string {
	switch p {
	case task.PriorityHigh:
		return "高"
	case task.PriorityLow:
		return "低"
	default:
		return "中"
	}
}

func validDueDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if _, err := time.Parse("2006-01-02", raw); err != nil {
		return ""
	}
	return raw
}

func matchExact(phrase string) func(string) bool {
	return func(text string) bool { return text == phrase }
}

func matchPrefix(prefix string) func(string) bool {
	return func(text string) bool { return strings.HasPrefix(text, prefix) }
}

func matchContains(keyword string) func(string) bool {
	return func(text string) bool { return strings.Contains(text, keyword) }
}
