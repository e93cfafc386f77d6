// Package reasoning implements the Iterative Reasoning Engine: the
// Think/Evaluate/Refine state machine, MaTTS parallel fan-out with
// self-contrast selection, MaTTS sequential refinement chains, and loop
// detection, generalizing the fan-out/barrier shape the teacher's WARPP
// orchestration uses for concurrent stages.
package reasoning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/sync/errgroup"

	"mnemo/internal/llmx"
	"mnemo/internal/memorycore"
	"mnemo/internal/mnemoerr"
	"mnemo/internal/observability"
	"mnemo/internal/storage"
)

// MattsMode selects the Memory-aware Test-Time Scaling strategy.
type MattsMode string

const (
	MattsNone     MattsMode = ""
	MattsParallel MattsMode = "parallel"
	MattsSequential MattsMode = "sequential"
)

// Config tunes the engine's iteration budget and thresholds.
type Config struct {
	Model             string
	MaxIterations     int
	SuccessThreshold  float64
	GenerateTemperature float64
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 0.8
	}
	if c.GenerateTemperature <= 0 {
		c.GenerateTemperature = 0.7
	}
	return c
}

// Engine drives a single solve from GENERATE through STORE.
type Engine struct {
	oracle memorycore.LLMCreator
	core   *memorycore.Core
	cfg    Config
}

func New(oracle memorycore.LLMCreator, core *memorycore.Core, cfg Config) *Engine {
	return &Engine{oracle: oracle, core: core, cfg: cfg.withDefaults()}
}

// SolveParams mirrors the solve_coding_task tool's inputs (spec.md §6).
type SolveParams struct {
	Task        string
	UseMemory   bool
	EnableMatts bool
	MattsK      int
	MattsMode   MattsMode
	StoreResult bool
	WorkspaceID string
}

// Result is solve_coding_task's output shape.
type Result struct {
	Success            bool
	Output             string
	Trajectory         []storage.TrajectoryStep
	Score              float64
	Iterations         int
	MemoriesExtracted  int
	JudgeReasoning     string
	AllOutputs         []string
	SelectedTrajectory int
	TraceID            string
	ErrorKind          mnemoerr.Kind
	ErrorMessage       string
}

// Solve runs the FSM to completion.
func (e *Engine) Solve(ctx context.Context, p SolveParams) (Result, error) {
	if len(p.Task) < 10 {
		return Result{}, mnemoerr.New(mnemoerr.Validation, "task must be at least 10 characters", nil)
	}
	if p.EnableMatts && (p.MattsK < 2 || p.MattsK > 10) {
		return Result{}, mnemoerr.New(mnemoerr.Validation, "matts_k must be in [2,10]", map[string]any{"matts_k": p.MattsK})
	}

	ctx, _ = observability.WithTraceID(ctx)
	if p.WorkspaceID != "" {
		ctx = observability.WithWorkspaceID(ctx, p.WorkspaceID)
	}

	var retrieved []memorycore.Retrieved
	if p.UseMemory && e.core != nil {
		var err error
		retrieved, err = e.core.Retrieve(ctx, memorycore.RetrievalParams{
			Query: p.Task, K: 5, IncludeFailures: true, BoostErrorWarnings: true, WorkspaceID: p.WorkspaceID,
		})
		if err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("reasoning_retrieve_failed")
		}
	}
	systemPrompt := memorycore.RenderPrompt(p.Task, retrieved, 2000)

	var (
		result Result
		err    error
	)
	switch {
	case p.EnableMatts && p.MattsMode == MattsParallel:
		result, err = e.solveParallel(ctx, p, systemPrompt)
	case p.EnableMatts && p.MattsMode == MattsSequential:
		result, err = e.solveSequential(ctx, p, systemPrompt)
	default:
		result, err = e.solveSingle(ctx, p, systemPrompt)
	}
	if err != nil {
		return Result{}, err
	}

	var topRetrieved *memorycore.Retrieved
	if len(retrieved) > 0 {
		topRetrieved = &retrieved[0]
	}
	return e.judgeExtractStore(ctx, p, result, topRetrieved)
}

func outputHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (e *Engine) generate(ctx context.Context, systemPrompt string, temperature float64) (thought, output string, err error) {
	resp, err := e.oracle.Create(ctx, llmx.Request{
		Model:       e.cfg.Model,
		Temperature: temperature,
		Messages: []llmx.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Produce a solution. Respond with your reasoning, then a line '---', then the final output."},
		},
	})
	if err != nil {
		return "", "", mnemoerr.Wrap(mnemoerr.LLMGeneration, "reasoning: generate call failed", err, nil)
	}
	return splitThoughtOutput(resp.Content)
}

func (e *Engine) evaluate(ctx context.Context, task, output string) (score float64, feedback string, err error) {
	resp, err := e.oracle.Create(ctx, llmx.Request{
		Model:       e.cfg.Model,
		Temperature: 0,
		Messages: []llmx.Message{
			{Role: "system", Content: "You are a strict evaluator. Respond with JSON {\"score\": 0..1, \"feedback\": string} only."},
			{Role: "user", Content: "Task:\n" + task + "\n\nCandidate output:\n" + output},
		},
	})
	if err != nil {
		return 0, "", mnemoerr.Wrap(mnemoerr.LLMGeneration, "reasoning: evaluate call failed", err, nil)
	}
	s, f, perr := parseEvaluation(resp.Content)
	if perr != nil {
		return 0, "", perr
	}
	return s, f, nil
}

func (e *Engine) refine(ctx context.Context, systemPrompt, priorOutput, feedback string) (output string, err error) {
	resp, err := e.oracle.Create(ctx, llmx.Request{
		Model:       e.cfg.Model,
		Temperature: e.cfg.GenerateTemperature,
		Messages: []llmx.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Prior output:\n%s\n\nFeedback:\n%s\n\nProduce an improved output.", priorOutput, feedback)},
		},
	})
	if err != nil {
		return "", mnemoerr.Wrap(mnemoerr.LLMGeneration, "reasoning: refine call failed", err, nil)
	}
	return resp.Content, nil
}

func splitThoughtOutput(raw string) (thought, output string, err error) {
	const sep = "\n---\n"
	if idx := indexOf(raw, sep); idx >= 0 {
		return raw[:idx], raw[idx+len(sep):], nil
	}
	return "", raw, nil
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// runSingleTrajectory executes one GENERATE->EVALUATE->REFINE loop with
// loop detection, returning the accumulated trajectory and final output.
func (e *Engine) runSingleTrajectory(ctx context.Context, systemPrompt, task string, trajectoryID int) ([]storage.TrajectoryStep, string, float64, error) {
	var steps []storage.TrajectoryStep
	seenHashes := map[string]bool{}

	thought, output, err := e.generate(ctx, systemPrompt, e.cfg.GenerateTemperature)
	if err != nil {
		return nil, "", 0, err
	}
	h := outputHash(output)
	seenHashes[h] = true
	steps = append(steps, storage.TrajectoryStep{Iteration: 1, Thought: thought, Action: storage.ActionGenerate, Output: output, OutputHash: h, TrajectoryID: trajectoryID})

	var score float64
	for iter := 1; iter <= e.cfg.MaxIterations; iter++ {
		var feedback string
		score, feedback, err = e.evaluate(ctx, task, output)
		if err != nil {
			return nil, "", 0, err
		}
		steps = append(steps, storage.TrajectoryStep{Iteration: iter, Action: storage.ActionEvaluate, Output: feedback, TrajectoryID: trajectoryID})

		if score >= e.cfg.SuccessThreshold || iter == e.cfg.MaxIterations {
			break
		}

		refined, err := e.refine(ctx, systemPrompt, output, feedback)
		if err != nil {
			return nil, "", 0, err
		}
		rh := outputHash(refined)
		steps = append(steps, storage.TrajectoryStep{Iteration: iter, Action: storage.ActionRefine, Output: refined, OutputHash: rh, TrajectoryID: trajectoryID})
		output = refined

		if seenHashes[rh] {
			break // loop detected: jump to JUDGE regardless of remaining iterations
		}
		seenHashes[rh] = true
	}

	return steps, output, score, nil
}

func (e *Engine) solveSingle(ctx context.Context, p SolveParams, systemPrompt string) (Result, error) {
	steps, output, score, err := e.runSingleTrajectory(ctx, systemPrompt, p.Task, 0)
	if err != nil {
		return Result{}, err
	}
	return Result{Output: output, Trajectory: steps, Score: score, Iterations: len(steps)}, nil
}

func (e *Engine) solveSequential(ctx context.Context, p SolveParams, systemPrompt string) (Result, error) {
	var all []storage.TrajectoryStep
	thought, output, err := e.generate(ctx, systemPrompt, e.cfg.GenerateTemperature)
	if err != nil {
		return Result{}, err
	}
	all = append(all, storage.TrajectoryStep{Iteration: 1, Thought: thought, Action: storage.ActionGenerate, Output: output, OutputHash: outputHash(output)})

	var score float64
	for stage := 1; stage <= p.MattsK; stage++ {
		var feedback string
		score, feedback, err = e.evaluate(ctx, p.Task, output)
		if err != nil {
			return Result{}, err
		}
		all = append(all, storage.TrajectoryStep{Iteration: stage, Action: storage.ActionEvaluate, Output: feedback, RefinementStage: stage})

		if score >= e.cfg.SuccessThreshold {
			break
		}
		refined, err := e.refine(ctx, systemPrompt, output, feedback)
		if err != nil {
			return Result{}, err
		}
		all = append(all, storage.TrajectoryStep{Iteration: stage, Action: storage.ActionRefine, Output: refined, OutputHash: outputHash(refined), RefinementStage: stage})
		output = refined
	}

	return Result{Output: output, Trajectory: all, Score: score, Iterations: len(all)}, nil
}

type candidateResult struct {
	trajectoryID int
	steps        []storage.TrajectoryStep
	output       string
	score        float64
}

// solveParallel fans K GENERATE-only calls out via errgroup (never
// serialized behind a single lock per spec.md §5) — MaTTS-parallel is
// generate-only per candidate, with no per-candidate EVALUATE/REFINE — then
// runs the self-contrast SELECT barrier once all K complete.
func (e *Engine) solveParallel(ctx context.Context, p SolveParams, systemPrompt string) (Result, error) {
	results := make([]candidateResult, p.MattsK)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.MattsK; i++ {
		i := i
		g.Go(func() error {
			thought, output, err := e.generate(gctx, systemPrompt, e.cfg.GenerateTemperature)
			if err != nil {
				return err
			}
			h := outputHash(output)
			step := storage.TrajectoryStep{Iteration: 1, Thought: thought, Action: storage.ActionGenerate, Output: output, OutputHash: h, TrajectoryID: i}
			results[i] = candidateResult{trajectoryID: i, steps: []storage.TrajectoryStep{step}, output: output}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	selected, err := e.selectBest(ctx, p.Task, results)
	if err != nil {
		return Result{}, err
	}

	var allSteps []storage.TrajectoryStep
	allOutputs := make([]string, len(results))
	for _, r := range results {
		allSteps = append(allSteps, r.steps...)
		allOutputs[r.trajectoryID] = r.output
	}
	allSteps = append(allSteps, storage.TrajectoryStep{
		Iteration:    len(allSteps),
		Action:       storage.ActionSelect,
		Output:       fmt.Sprintf("selected trajectory %d", selected),
		TrajectoryID: selected,
	})

	return Result{
		Output:             results[selected].output,
		Trajectory:         allSteps,
		Score:              results[selected].score,
		Iterations:         len(allSteps),
		AllOutputs:         allOutputs,
		SelectedTrajectory: selected,
	}, nil
}

// selectBest renders a self-contrast prompt listing all K outputs and asks
// the oracle to pick an index (spec.md §4.6). The oracle's pick is honored
// when it parses to a valid index; otherwise selection falls back to the
// highest-scoring candidate, tied scores breaking to the lowest
// trajectory_id.
func (e *Engine) selectBest(ctx context.Context, task string, results []candidateResult) (int, error) {
	var prompt string
	prompt += "Task:\n" + task + "\n\nCandidates:\n"
	for _, r := range results {
		prompt += fmt.Sprintf("\n[%d]\n%s\n", r.trajectoryID, r.output)
	}
	prompt += "\nRespond with JSON {\"selected_index\": int, \"reasoning\": string} naming the best candidate."

	resp, err := e.oracle.Create(ctx, llmx.Request{
		Model:       e.cfg.Model,
		Temperature: 0,
		Messages: []llmx.Message{
			{Role: "system", Content: "You are a self-contrast judge selecting among candidate solutions."},
			{Role: "user", Content: prompt},
		},
	})
	if err == nil {
		if idx, ok := parseSelection(resp.Content, len(results)); ok {
			return idx, nil
		}
	}

	// Self-contrast is advisory; an oracle error or an unparseable response
	// falls back to the highest-scoring candidate rather than failing the
	// whole solve.
	best := 0
	for i := 1; i < len(results); i++ {
		if results[i].score > results[best].score {
			best = i
		}
	}
	return best, nil
}

func (e *Engine) judgeExtractStore(ctx context.Context, p SolveParams, r Result, topRetrieved *memorycore.Retrieved) (Result, error) {
	if e.core == nil {
		r.Success = r.Score >= e.cfg.SuccessThreshold
		return r, nil
	}

	verdict, err := e.core.Judge(ctx, p.Task, r.Output)
	if err != nil {
		r.Success = false
		r.ErrorKind = mnemoerr.JSONParse
		r.ErrorMessage = err.Error()
		return r, nil
	}
	r.JudgeReasoning = verdict.Reasoning
	r.Score = verdict.Score
	r.Success = verdict.Outcome == storage.OutcomeSuccess

	if !p.StoreResult {
		return r, nil
	}

	items, err := memorycore.Extract(memorycore.ExtractParams{
		WorkspaceID:  p.WorkspaceID,
		Verdict:      verdict,
		TopRetrieved: topRetrieved,
	})
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("reasoning_extract_failed")
		items = nil
	}

	traceID, err := e.core.StoreResult(ctx, storage.ReasoningTrace{
		Task:        p.Task,
		Trajectory:  r.Trajectory,
		Outcome:     verdict.Outcome,
		WorkspaceID: p.WorkspaceID,
	}, items)
	if err != nil {
		r.Success = false
		r.ErrorKind = mnemoerr.Storage
		r.ErrorMessage = err.Error()
		return r, nil
	}

	r.TraceID = traceID
	r.MemoriesExtracted = len(items)
	return r, nil
}
