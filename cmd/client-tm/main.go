package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	logs "github.com/treadle/loomctl/internal/logging"
)

const defaultConfigPath = "cmd/client-tm/looms.toml"

var (
	// ErrNavigateBack signals caller-intent to return to the previous menu.
	ErrNavigateBack = errors.New("navigate back")
	// ErrNavigateExit signals caller-intent to exit the interactive client.
	ErrNavigateExit = errors.New("navigate exit")
)

// clientConfigFile persists loom targets configured for the client.
type clientConfigFile struct {
	ClearScreenAfterCommand bool               `toml:"clear_screen_after_command"`
	Targets                 []loomTargetConfig `toml:"targets"`
}

// loomTargetConfig binds a display name to one loom admin endpoint.
type loomTargetConfig struct {
	Name   string `toml:"name"`
	Addr   string `toml:"addr"`
	Token  string `toml:"token"`
	LoomID string `toml:"loom_id"`
}

// Wire shapes mirrored from the loom admin surface.
type threadStatus struct {
	ID      uint64 `json:"thread_id"`
	Mode    string `json:"mode"`
	Pending int    `json:"pending"`
	Dead    bool   `json:"dead"`
}

type loomHealth struct {
	Status  string `json:"status"`
	Loom    string `json:"loom"`
	Uptime  string `json:"uptime"`
	Threads int    `json:"threads"`
	Pending int    `json:"pending"`
	Dead    int    `json:"dead"`
}

type dispatchResult struct {
	Status string          `json:"status"`
	TaskID uint64          `json:"task_id"`
	Result json.RawMessage `json:"result"`
}

type joinResult struct {
	Status  string `json:"status"`
	Pending int    `json:"pending"`
}

// LoomAdmin defines the client control boundary for one loom target.
type LoomAdmin interface {
	LoomID() string
	Address() string
	Health() (loomHealth, error)
	Entries() ([]string, error)
	Threads() ([]threadStatus, error)
	SpawnThread() (threadStatus, error)
	Dispatch(id uint64, entry string, param json.RawMessage, waitMS int64) (dispatchResult, error)
	Join(id uint64, maxWaitMS int64) (joinResult, error)
	PostMessage(id uint64, payload json.RawMessage) error
	Dispose(id uint64) (threadStatus, error)
	Close() error
}

// RemoteLoomAdmin is an HTTP client for the loomctl admin endpoint.
type RemoteLoomAdmin struct {
	addr   string
	token  string
	loomID string
	client *http.Client
}

// LoomTarget maps a friendly name to a concrete loom admin implementation.
type LoomTarget struct {
	Name  string
	Admin LoomAdmin
}

// EntryArgSpec defines one guided argument prompt for a catalog entry template.
type EntryArgSpec struct {
	Key          string
	Prompt       string
	Required     bool
	DefaultValue string
}

// EntryTemplate defines one predeclared dispatch shape used by the wizard.
type EntryTemplate struct {
	ID            string
	Label         string
	Description   string
	Entry         string
	Args          []EntryArgSpec
	BuildParam    func(args map[string]string) (json.RawMessage, error)
	DefaultWaitMS int64
}

// App hosts interactive state and persisted target references.
type App struct {
	reader       *bufio.Reader
	cfgPath      string
	cfg          clientConfigFile
	targets      []LoomTarget
	activeTarget int
	clearScreen  bool
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the client targets file (toml)")
	flag.Parse()

	logs.ConfigureRuntime()
	app := NewApp(*configPath)
	if err := app.Run(); err != nil {
		logs.Errf("client-tm: %v", err)
		os.Exit(1)
	}
}

func NewApp(cfgPath string) *App {
	return &App{
		reader:       bufio.NewReader(os.Stdin),
		cfgPath:      cfgPath,
		targets:      make([]LoomTarget, 0),
		activeTarget: -1,
		clearScreen:  false,
	}
}

// Run executes the main interactive menu loop.
func (a *App) Run() error {
	if err := a.loadOrInitConfig(); err != nil {
		return err
	}
	logs.Infof("client-tm loaded loom_targets=%d", len(a.cfg.Targets))

	for {
		a.printMainMenu()
		choice, err := a.promptInt("Choose", 1, 8, false, true)
		if err != nil {
			if errors.Is(err, ErrNavigateExit) {
				return a.exitClient()
			}
			return err
		}
		a.clearIfEnabled()
		switch choice {
		case 1:
			a.listTargets()
		case 2:
			if err := a.addLoomTarget(); err != nil {
				logs.Errf("add target failed: %v", err)
			}
		case 3:
			if err := a.selectActiveTarget(); err != nil {
				if errors.Is(err, ErrNavigateBack) {
					continue
				}
				if errors.Is(err, ErrNavigateExit) {
					return a.exitClient()
				}
				logs.Errf("select target failed: %v", err)
			}
		case 4:
			a.showActiveTargetSummary()
		case 5:
			if err := a.runLoomConsole(); err != nil {
				if errors.Is(err, ErrNavigateExit) {
					return a.exitClient()
				}
				logs.Errf("loom console error: %v", err)
			}
		case 6:
			if err := a.removeLoomTarget(); err != nil {
				if errors.Is(err, ErrNavigateBack) {
					continue
				}
				if errors.Is(err, ErrNavigateExit) {
					return a.exitClient()
				}
				logs.Errf("remove target failed: %v", err)
			}
		case 7:
			if err := a.runConfigMenu(); err != nil {
				if errors.Is(err, ErrNavigateBack) {
					continue
				}
				if errors.Is(err, ErrNavigateExit) {
					return a.exitClient()
				}
				logs.Errf("config menu failed: %v", err)
			}
		case 8:
			return a.exitClient()
		}
	}
}

// exitClient saves current config and closes admin clients.
func (a *App) exitClient() error {
	if err := a.saveConfig(); err != nil {
		logs.Warnf("save on exit failed: %v", err)
	}
	a.closeTargets()
	logs.Infof("client-tm exiting")
	return nil
}

// loadOrInitConfig loads the persisted file and initializes runtime targets.
func (a *App) loadOrInitConfig() error {
	if err := ensureFile(a.cfgPath); err != nil {
		return err
	}
	if _, err := toml.DecodeFile(a.cfgPath, &a.cfg); err != nil {
		return fmt.Errorf("load client config: %w", err)
	}
	a.clearScreen = a.cfg.ClearScreenAfterCommand
	needsSave := false

	if len(a.cfg.Targets) == 0 {
		a.cfg.Targets = append(a.cfg.Targets, loomTargetConfig{
			Name:   "local-loom",
			Addr:   "127.0.0.1:9200",
			LoomID: "loom.local",
		})
		needsSave = true
	}
	for i, cfg := range a.cfg.Targets {
		name := strings.TrimSpace(cfg.Name)
		addr := strings.TrimSpace(cfg.Addr)
		if name == "" || addr == "" {
			continue
		}
		admin := NewRemoteLoomAdmin(addr, strings.TrimSpace(cfg.Token))
		if strings.TrimSpace(cfg.LoomID) == "" {
			if health, err := admin.Health(); err == nil && strings.TrimSpace(health.Loom) != "" {
				a.cfg.Targets[i].LoomID = strings.TrimSpace(health.Loom)
				needsSave = true
			}
		}
		a.targets = append(a.targets, LoomTarget{Name: name, Admin: admin})
	}
	if len(a.targets) > 0 {
		a.activeTarget = 0
	}
	if needsSave {
		return a.saveConfig()
	}
	return nil
}

// saveConfig writes the current target list to disk.
func (a *App) saveConfig() error {
	buf := strings.Builder{}
	if err := toml.NewEncoder(&buf).Encode(a.cfg); err != nil {
		return err
	}
	return os.WriteFile(a.cfgPath, []byte(buf.String()), 0o644)
}

func (a *App) printMainMenu() {
	fmt.Println()
	fmt.Println("Client TM")
	fmt.Printf("  loom config: %s (targets=%d)\n", a.cfgPath, len(a.cfg.Targets))
	fmt.Printf("  clear screen after command: %v\n", a.clearScreen)
	fmt.Println("  1) List loom targets")
	fmt.Println("  2) Add loom target (persist)")
	fmt.Println("  3) Select active loom target")
	fmt.Println("  4) Show active target summary")
	fmt.Println("  5) Loom admin console")
	fmt.Println("  6) Remove loom target")
	fmt.Println("  7) Config menu")
	fmt.Println("  8) Exit")
}

// runConfigMenu centralizes client runtime toggles and persistence actions.
func (a *App) runConfigMenu() error {
	for {
		fmt.Println()
		fmt.Println("Config Menu")
		fmt.Printf("  clear_screen_after_command: %v\n", a.clearScreen)
		fmt.Printf("  loom config: %s\n", a.cfgPath)
		fmt.Println("  1) Toggle clear-screen")
		fmt.Println("  2) Save config")
		fmt.Println("  3) Reset config to defaults")
		fmt.Println("  4) Back")
		choice, err := a.promptInt("Choose", 1, 4, true, true)
		if err != nil {
			return err
		}
		a.clearIfEnabled()
		switch choice {
		case 1:
			a.clearScreen = !a.clearScreen
			a.cfg.ClearScreenAfterCommand = a.clearScreen
			logs.Infof("clear_screen_after_command=%v", a.clearScreen)
		case 2:
			if err := a.saveConfig(); err != nil {
				logs.Errf("save failed: %v", err)
			} else {
				logs.Infof("config saved")
			}
		case 3:
			if err := a.resetToDefaultConfig(); err != nil {
				logs.Errf("reset config failed: %v", err)
			}
		case 4:
			return nil
		}
	}
}

// resetToDefaultConfig removes stale targets and restores the baseline file.
func (a *App) resetToDefaultConfig() error {
	confirm, err := a.promptLine("Type RESET to confirm")
	if err != nil {
		return err
	}
	if strings.TrimSpace(confirm) != "RESET" {
		return errors.New("reset cancelled")
	}
	a.closeTargets()
	a.cfg = clientConfigFile{
		ClearScreenAfterCommand: false,
		Targets: []loomTargetConfig{
			{Name: "local-loom", Addr: "127.0.0.1:9200", LoomID: "loom.local"},
		},
	}
	a.targets = []LoomTarget{{Name: "local-loom", Admin: NewRemoteLoomAdmin("127.0.0.1:9200", "")}}
	a.activeTarget = 0
	a.clearScreen = false
	return a.saveConfig()
}

func (a *App) listTargets() {
	fmt.Println()
	fmt.Println("Loom Targets")
	if len(a.targets) == 0 {
		fmt.Println("  (none)")
		return
	}
	for i := range a.targets {
		target := a.targets[i]
		marker := " "
		if a.activeTarget == i {
			marker = "*"
		}
		health, err := target.Admin.Health()
		if err != nil {
			fmt.Printf("  %s [%d] %s addr=%s (status err: %v)\n", marker, i+1, target.Name, target.Admin.Address(), err)
			continue
		}
		fmt.Printf(
			"  %s [%d] %s addr=%s loom=%s threads=%d pending=%d dead=%d\n",
			marker,
			i+1,
			target.Name,
			target.Admin.Address(),
			health.Loom,
			health.Threads,
			health.Pending,
			health.Dead,
		)
	}
}

func (a *App) addLoomTarget() error {
	nameRaw, err := a.promptLine("Target name")
	if err != nil {
		return err
	}
	addrRaw, err := a.promptLine("Loom admin addr (host:port or port)")
	if err != nil {
		return err
	}
	tokenRaw, err := a.promptLine("Admin token (blank for none)")
	if err != nil {
		return err
	}
	name := strings.TrimSpace(nameRaw)
	if name == "" {
		return errors.New("name is required")
	}
	addr, err := normalizeTargetAddr(addrRaw)
	if err != nil {
		return err
	}
	if a.targetExists(name, addr) {
		return fmt.Errorf("target exists name=%q addr=%q", name, addr)
	}

	token := strings.TrimSpace(tokenRaw)
	admin := NewRemoteLoomAdmin(addr, token)
	loomID := ""
	if health, healthErr := admin.Health(); healthErr == nil {
		loomID = strings.TrimSpace(health.Loom)
	} else {
		logs.Warnf("target %q unreachable at add time: %v", name, healthErr)
	}

	a.cfg.Targets = append(a.cfg.Targets, loomTargetConfig{Name: name, Addr: addr, Token: token, LoomID: loomID})
	a.targets = append(a.targets, LoomTarget{Name: name, Admin: admin})
	if a.activeTarget < 0 {
		a.activeTarget = 0
	}
	logs.Infof("added loom target name=%q loom_id=%q addr=%q", name, loomID, addr)
	return a.saveConfig()
}

// removeLoomTarget deletes one target from runtime and persisted config.
func (a *App) removeLoomTarget() error {
	if len(a.targets) == 0 {
		return errors.New("no targets to remove")
	}
	a.listTargets()
	choice, err := a.promptInt("Remove target", 1, len(a.targets), true, true)
	if err != nil {
		return err
	}
	idx := choice - 1
	name := a.targets[idx].Name
	admin := a.targets[idx].Admin
	a.targets = append(a.targets[:idx], a.targets[idx+1:]...)
	a.cfg.Targets = append(a.cfg.Targets[:idx], a.cfg.Targets[idx+1:]...)
	_ = admin.Close()
	if len(a.targets) == 0 {
		a.activeTarget = -1
	} else if a.activeTarget >= len(a.targets) {
		a.activeTarget = len(a.targets) - 1
	}
	logs.Infof("removed target name=%q", name)
	return a.saveConfig()
}

func (a *App) selectActiveTarget() error {
	if len(a.targets) == 0 {
		return errors.New("no targets available")
	}
	a.listTargets()
	choice, err := a.promptInt("Select target", 1, len(a.targets), true, true)
	if err != nil {
		return err
	}
	a.activeTarget = choice - 1
	logs.Infof("active target set name=%q", a.targets[a.activeTarget].Name)
	return nil
}

func (a *App) showActiveTargetSummary() {
	target, ok := a.active()
	if !ok {
		fmt.Println("No active target. Add/select one first.")
		return
	}
	a.showLoomTargetSummary(target)
}

func (a *App) showLoomTargetSummary(target LoomTarget) {
	health, err := target.Admin.Health()
	if err != nil {
		fmt.Printf("Status error: %v\n", err)
		return
	}
	threads, err := target.Admin.Threads()
	if err != nil {
		fmt.Printf("Thread list error: %v\n", err)
		return
	}

	fmt.Println()
	fmt.Printf("Active Target: %s\n", target.Name)
	fmt.Printf("  addr:    %s\n", target.Admin.Address())
	fmt.Printf("  loom:    %s\n", health.Loom)
	fmt.Printf("  uptime:  %s\n", health.Uptime)
	fmt.Printf("  threads: %d (pending=%d dead=%d)\n", health.Threads, health.Pending, health.Dead)
	printThreadTable(threads)
}

// runLoomConsole drives one admin session for the active loom target.
func (a *App) runLoomConsole() error {
	target, ok := a.active()
	if !ok {
		return errors.New("no active target")
	}
	for {
		fmt.Println()
		fmt.Printf("Loom Admin Console (%s @ %s)\n", target.Name, target.Admin.Address())
		fmt.Println("  1) Show status")
		fmt.Println("  2) List threads")
		fmt.Println("  3) Spawn thread")
		fmt.Println("  4) Dispatch entry (wizard)")
		fmt.Println("  5) Dispatch entry (free-form)")
		fmt.Println("  6) Join thread")
		fmt.Println("  7) Post message to thread")
		fmt.Println("  8) Dispose thread")
		fmt.Println("  9) Back")

		choice, err := a.promptInt("Choose", 1, 9, true, true)
		if err != nil {
			if errors.Is(err, ErrNavigateBack) {
				return nil
			}
			return err
		}
		a.clearIfEnabled()
		switch choice {
		case 1:
			a.showLoomTargetSummary(target)
		case 2:
			if err := a.listThreads(target); err != nil {
				logs.Errf("list threads failed: %v", err)
			}
		case 3:
			if err := a.spawnThread(target); err != nil {
				logs.Errf("spawn thread failed: %v", err)
			}
		case 4:
			if err := a.dispatchWizard(target); err != nil {
				logs.Errf("dispatch failed: %v", err)
			}
		case 5:
			if err := a.dispatchFreeForm(target); err != nil {
				logs.Errf("dispatch failed: %v", err)
			}
		case 6:
			if err := a.joinThread(target); err != nil {
				logs.Errf("join failed: %v", err)
			}
		case 7:
			if err := a.postMessage(target); err != nil {
				logs.Errf("post message failed: %v", err)
			}
		case 8:
			if err := a.disposeThread(target); err != nil {
				logs.Errf("dispose failed: %v", err)
			}
		case 9:
			return nil
		}
	}
}

func (a *App) listThreads(target LoomTarget) error {
	threads, err := target.Admin.Threads()
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Println("Threads")
	printThreadTable(threads)
	return nil
}

func (a *App) spawnThread(target LoomTarget) error {
	status, err := target.Admin.SpawnThread()
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Printf("Spawned thread_id=%d mode=%s\n", status.ID, status.Mode)
	return nil
}

// dispatchWizard runs one guided dispatch against a selected thread.
func (a *App) dispatchWizard(target LoomTarget) error {
	registered, err := target.Admin.Entries()
	if err != nil {
		return err
	}
	templates := entryTemplatesForLoom(registered)
	if len(templates) == 0 {
		return errors.New("no supported entry templates for registered entries")
	}
	fmt.Println()
	fmt.Println("Dispatch Wizard")
	template, err := a.promptEntryTemplateSelection("Select entry template", templates)
	if err != nil {
		return err
	}
	args, err := a.promptEntryArgs(template.Args)
	if err != nil {
		return err
	}
	param, err := template.BuildParam(args)
	if err != nil {
		return err
	}
	waitMS, err := a.promptWaitMS(template.DefaultWaitMS)
	if err != nil {
		return err
	}
	threadID, err := a.promptThreadSelection(target)
	if err != nil {
		return err
	}

	out, err := target.Admin.Dispatch(threadID, template.Entry, param, waitMS)
	if err != nil {
		return err
	}
	printDispatchResult(template.Entry, out)
	return nil
}

// dispatchFreeForm dispatches an arbitrary registered entry with raw param json.
func (a *App) dispatchFreeForm(target LoomTarget) error {
	entryRaw, err := a.promptLine("entry id")
	if err != nil {
		return err
	}
	entryID := strings.TrimSpace(entryRaw)
	if entryID == "" {
		return errors.New("entry id required")
	}
	paramRaw, err := a.promptLine("param (json, blank for null)")
	if err != nil {
		return err
	}
	param, err := coerceJSON(paramRaw)
	if err != nil {
		return err
	}
	waitMS, err := a.promptWaitMS(2000)
	if err != nil {
		return err
	}
	threadID, err := a.promptThreadSelection(target)
	if err != nil {
		return err
	}

	out, err := target.Admin.Dispatch(threadID, entryID, param, waitMS)
	if err != nil {
		return err
	}
	printDispatchResult(entryID, out)
	return nil
}

func (a *App) joinThread(target LoomTarget) error {
	threadID, err := a.promptThreadSelection(target)
	if err != nil {
		return err
	}
	waitMS, err := a.promptWaitMS(2000)
	if err != nil {
		return err
	}
	if waitMS <= 0 {
		waitMS = 2000
	}
	out, err := target.Admin.Join(threadID, waitMS)
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Printf("Join complete thread_id=%d pending=%d\n", threadID, out.Pending)
	return nil
}

func (a *App) postMessage(target LoomTarget) error {
	threadID, err := a.promptThreadSelection(target)
	if err != nil {
		return err
	}
	payloadRaw, err := a.promptLine("payload (json)")
	if err != nil {
		return err
	}
	payload, err := coerceJSON(payloadRaw)
	if err != nil {
		return err
	}
	if err := target.Admin.PostMessage(threadID, payload); err != nil {
		return err
	}
	fmt.Println()
	fmt.Printf("Message posted thread_id=%d\n", threadID)
	return nil
}

func (a *App) disposeThread(target LoomTarget) error {
	threadID, err := a.promptThreadSelection(target)
	if err != nil {
		return err
	}
	status, err := target.Admin.Dispose(threadID)
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Printf("Disposed thread_id=%d dead=%v\n", status.ID, status.Dead)
	return nil
}

// promptThreadSelection lists live threads and returns one selected id.
func (a *App) promptThreadSelection(target LoomTarget) (uint64, error) {
	threads, err := target.Admin.Threads()
	if err != nil {
		return 0, err
	}
	if len(threads) == 0 {
		return 0, errors.New("no threads; spawn one first")
	}
	fmt.Println("Threads")
	printThreadTable(threads)
	choice, err := a.promptInt("Select thread", 1, len(threads), true, true)
	if err != nil {
		return 0, err
	}
	return threads[choice-1].ID, nil
}

// promptEntryTemplateSelection renders the guided template list and returns one selection.
func (a *App) promptEntryTemplateSelection(label string, templates []EntryTemplate) (EntryTemplate, error) {
	fmt.Println("Available Entries")
	for i := range templates {
		tpl := templates[i]
		fmt.Printf("  %d) %s [%s]\n", i+1, tpl.Label, tpl.Entry)
		if strings.TrimSpace(tpl.Description) != "" {
			fmt.Printf("     - %s\n", tpl.Description)
		}
	}
	choice, err := a.promptInt(label, 1, len(templates), true, true)
	if err != nil {
		return EntryTemplate{}, err
	}
	return templates[choice-1], nil
}

// promptEntryArgs collects required/optional argument values for one entry template.
func (a *App) promptEntryArgs(specs []EntryArgSpec) (map[string]string, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(specs))
	for i := range specs {
		spec := specs[i]
		if strings.TrimSpace(spec.Key) == "" {
			continue
		}
		for {
			prompt := strings.TrimSpace(spec.Prompt)
			if prompt == "" {
				prompt = spec.Key
			}
			if strings.TrimSpace(spec.DefaultValue) != "" {
				prompt += fmt.Sprintf(" (default=%s)", spec.DefaultValue)
			}
			raw, err := a.promptLine(prompt)
			if err != nil {
				return nil, err
			}
			value := strings.TrimSpace(raw)
			if value == "" && strings.TrimSpace(spec.DefaultValue) != "" {
				value = strings.TrimSpace(spec.DefaultValue)
			}
			if spec.Required && value == "" {
				fmt.Printf("Argument %q is required.\n", spec.Key)
				continue
			}
			if value != "" {
				out[spec.Key] = value
			}
			break
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (a *App) promptWaitMS(defaultMS int64) (int64, error) {
	raw, err := a.promptLine(fmt.Sprintf("wait_ms (default %d, 0 = fire and forget)", defaultMS))
	if err != nil {
		return 0, err
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultMS, nil
	}
	v, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || v < 0 {
		return 0, errors.New("wait_ms must be a non-negative integer")
	}
	return v, nil
}

func (a *App) active() (LoomTarget, bool) {
	if a.activeTarget < 0 || a.activeTarget >= len(a.targets) {
		return LoomTarget{}, false
	}
	return a.targets[a.activeTarget], true
}

func (a *App) promptLine(label string) (string, error) {
	if strings.TrimSpace(label) != "" {
		fmt.Printf("%s: ", label)
	}
	line, err := a.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *App) promptInt(label string, min int, max int, allowBack bool, allowExit bool) (int, error) {
	for {
		rangePrompt := fmt.Sprintf("%s [%d-%d", label, min, max)
		if allowBack {
			rangePrompt += "|back|b"
		}
		if allowExit {
			rangePrompt += "|exit|e"
		}
		rangePrompt += "]"
		line, err := a.promptLine(rangePrompt)
		if err != nil {
			return 0, err
		}
		trimmed := strings.ToLower(strings.TrimSpace(line))
		if allowBack && (trimmed == "back" || trimmed == "b") {
			return 0, ErrNavigateBack
		}
		if allowExit && (trimmed == "exit" || trimmed == "e") {
			return 0, ErrNavigateExit
		}
		v, err := strconv.Atoi(trimmed)
		if err != nil || v < min || v > max {
			fmt.Println("Invalid selection.")
			continue
		}
		return v, nil
	}
}

func (a *App) targetExists(name string, addr string) bool {
	for _, t := range a.cfg.Targets {
		if strings.EqualFold(strings.TrimSpace(t.Name), strings.TrimSpace(name)) {
			return true
		}
		if strings.EqualFold(strings.TrimSpace(t.Addr), strings.TrimSpace(addr)) {
			return true
		}
	}
	return false
}

func (a *App) closeTargets() {
	for _, t := range a.targets {
		_ = t.Admin.Close()
	}
}

func (a *App) clearIfEnabled() {
	if !a.clearScreen {
		return
	}
	fmt.Print("\033[H\033[2J")
}

func NewRemoteLoomAdmin(addr string, token string) *RemoteLoomAdmin {
	return &RemoteLoomAdmin{
		addr:   strings.TrimSpace(addr),
		token:  strings.TrimSpace(token),
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *RemoteLoomAdmin) LoomID() string {
	if c.loomID != "" {
		return c.loomID
	}
	health, err := c.Health()
	if err != nil {
		return ""
	}
	return health.Loom
}

func (c *RemoteLoomAdmin) Address() string {
	return c.addr
}

func (c *RemoteLoomAdmin) Health() (loomHealth, error) {
	var out loomHealth
	if err := c.call(http.MethodGet, "/health", nil, &out); err != nil {
		return loomHealth{}, err
	}
	c.loomID = strings.TrimSpace(out.Loom)
	return out, nil
}

func (c *RemoteLoomAdmin) Entries() ([]string, error) {
	var out struct {
		Entries []string `json:"entries"`
	}
	if err := c.call(http.MethodGet, "/entries", nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *RemoteLoomAdmin) Threads() ([]threadStatus, error) {
	var out struct {
		Threads []threadStatus `json:"threads"`
	}
	if err := c.call(http.MethodGet, "/threads", nil, &out); err != nil {
		return nil, err
	}
	return out.Threads, nil
}

func (c *RemoteLoomAdmin) SpawnThread() (threadStatus, error) {
	var out struct {
		Thread threadStatus `json:"thread"`
	}
	if err := c.call(http.MethodPost, "/threads", nil, &out); err != nil {
		return threadStatus{}, err
	}
	return out.Thread, nil
}

func (c *RemoteLoomAdmin) Dispatch(id uint64, entryID string, param json.RawMessage, waitMS int64) (dispatchResult, error) {
	var out dispatchResult
	req := map[string]any{
		"entry":   entryID,
		"param":   param,
		"wait_ms": waitMS,
	}
	path := fmt.Sprintf("/threads/%d/dispatch", id)
	if err := c.call(http.MethodPost, path, req, &out); err != nil {
		return dispatchResult{}, err
	}
	return out, nil
}

func (c *RemoteLoomAdmin) Join(id uint64, maxWaitMS int64) (joinResult, error) {
	var out joinResult
	path := fmt.Sprintf("/threads/%d/join?max_wait_ms=%d", id, maxWaitMS)
	if err := c.call(http.MethodGet, path, nil, &out); err != nil {
		return joinResult{}, err
	}
	return out, nil
}

func (c *RemoteLoomAdmin) PostMessage(id uint64, payload json.RawMessage) error {
	path := fmt.Sprintf("/threads/%d/message", id)
	return c.call(http.MethodPost, path, map[string]any{"payload": payload}, nil)
}

func (c *RemoteLoomAdmin) Dispose(id uint64) (threadStatus, error) {
	var out struct {
		Thread threadStatus `json:"thread"`
	}
	path := fmt.Sprintf("/threads/%d/dispose", id)
	if err := c.call(http.MethodPost, path, nil, &out); err != nil {
		return threadStatus{}, err
	}
	return out.Thread, nil
}

// call sends one admin request and decodes the response payload. Admin
// error bodies surface as plain errors with their status code attached.
func (c *RemoteLoomAdmin) call(method string, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, "http://"+c.addr+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var fail struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &fail) == nil && strings.TrimSpace(fail.Error) != "" {
			return fmt.Errorf("%s (status %d)", fail.Error, resp.StatusCode)
		}
		return fmt.Errorf("admin %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// Close releases pooled connections for this target.
func (c *RemoteLoomAdmin) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// entryTemplateCatalog is the stable list of wizard-exposed entry templates.
func entryTemplateCatalog() []EntryTemplate {
	return []EntryTemplate{
		{
			ID:          "std.echo",
			Label:       "Echo",
			Description: "Round-trip a JSON payload unchanged.",
			Entry:       "std.echo",
			Args: []EntryArgSpec{
				{Key: "payload", Prompt: "payload (json)", Required: false, DefaultValue: `{"ping":true}`},
			},
			BuildParam: func(args map[string]string) (json.RawMessage, error) {
				return coerceJSON(args["payload"])
			},
			DefaultWaitMS: 2000,
		},
		{
			ID:          "std.sum",
			Label:       "Sum",
			Description: "Sum a list of numbers on the worker.",
			Entry:       "std.sum",
			Args: []EntryArgSpec{
				{Key: "values", Prompt: "values (comma-separated numbers)", Required: true},
			},
			BuildParam: func(args map[string]string) (json.RawMessage, error) {
				return buildSumParam(args["values"])
			},
			DefaultWaitMS: 2000,
		},
		{
			ID:          "std.sleep",
			Label:       "Sleep",
			Description: "Hold a pending task for a fixed delay.",
			Entry:       "std.sleep",
			Args: []EntryArgSpec{
				{Key: "ms", Prompt: "sleep duration ms", Required: false, DefaultValue: "250"},
			},
			BuildParam: func(args map[string]string) (json.RawMessage, error) {
				return buildSleepParam(args["ms"])
			},
			DefaultWaitMS: 1000,
		},
	}
}

// entryTemplatesForLoom filters the catalog to entries registered on the target.
func entryTemplatesForLoom(registered []string) []EntryTemplate {
	available := make(map[string]struct{}, len(registered))
	for _, id := range registered {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		available[id] = struct{}{}
	}
	out := make([]EntryTemplate, 0)
	for _, tpl := range entryTemplateCatalog() {
		if _, ok := available[tpl.Entry]; !ok {
			continue
		}
		out = append(out, tpl)
	}
	sort.Slice(out, func(i int, j int) bool {
		return out[i].Entry < out[j].Entry
	})
	return out
}

func buildSumParam(raw string) (json.RawMessage, error) {
	parts := strings.Split(raw, ",")
	values := make([]float64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", part)
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return nil, errors.New("at least one number required")
	}
	return json.Marshal(values)
}

func buildSleepParam(raw string) (json.RawMessage, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || ms < 0 {
		return nil, errors.New("ms must be a non-negative integer")
	}
	return json.Marshal(map[string]int64{"ms": ms})
}

// coerceJSON passes valid JSON through and quotes anything else as a string.
func coerceJSON(raw string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return json.RawMessage("null"), nil
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}
	quoted, err := json.Marshal(trimmed)
	if err != nil {
		return nil, err
	}
	return quoted, nil
}

func printThreadTable(threads []threadStatus) {
	if len(threads) == 0 {
		fmt.Println("  (none)")
		return
	}
	fmt.Println("  #  thread_id  mode    pending  dead")
	fmt.Println("  -- ---------- ------- -------- ----")
	for i, th := range threads {
		fmt.Printf("  %-2d %-10d %-7s %-8d %v\n", i+1, th.ID, th.Mode, th.Pending, th.Dead)
	}
}

func printDispatchResult(entryID string, out dispatchResult) {
	fmt.Println()
	fmt.Println("Dispatch Result")
	fmt.Printf("  entry:   %s\n", entryID)
	fmt.Printf("  status:  %s\n", out.Status)
	fmt.Printf("  task_id: %d\n", out.TaskID)
	if len(out.Result) > 0 {
		fmt.Printf("  result:  %s\n", string(out.Result))
	}
}

func normalizeTargetAddr(requested string) (string, error) {
	req := strings.TrimSpace(requested)
	if req == "" {
		return "", errors.New("address required")
	}
	if strings.Contains(req, ":") {
		host, port, err := net.SplitHostPort(req)
		if err != nil {
			return "", fmt.Errorf("invalid address %q", req)
		}
		if strings.TrimSpace(host) == "" || strings.EqualFold(strings.TrimSpace(host), "localhost") {
			host = "127.0.0.1"
		}
		if strings.TrimSpace(port) == "" {
			return "", fmt.Errorf("invalid address %q", req)
		}
		return net.JoinHostPort(host, port), nil
	}
	if _, err := strconv.Atoi(req); err != nil {
		return "", fmt.Errorf("invalid port %q", req)
	}
	return net.JoinHostPort("127.0.0.1", req), nil
}

// ensureFile creates a missing file and parent directory for config bootstrapping.
func ensureFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}
