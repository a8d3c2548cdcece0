package judge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/evalagent/internal/model"
	"github.com/ppiankov/evalagent/internal/rules"
	"github.com/ppiankov/evalagent/internal/worker"
)

// BatchOptions tunes VerifyBatch
type BatchOptions struct {
	Concurrency int
	Pacing      time.Duration
	MaxClaims   int
	Prioritize  bool
	// Sleep overrides the pacing clock, for tests
	Sleep worker.SleepFunc
}

// DefaultBatchOptions returns groups of 3, one second apart, at most 25 claims.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{Concurrency: 3, Pacing: time.Second, MaxClaims: 25, Prioritize: true}
}

// BatchOptionsFromModel converts the judge section of the app config
func BatchOptionsFromModel(c model.JudgeConfig) BatchOptions {
	opts := DefaultBatchOptions()
	if c.Concurrency > 0 {
		opts.Concurrency = c.Concurrency
	}
	if c.Pacing >= 0 {
		opts.Pacing = c.Pacing
	}
	if c.MaxClaims > 0 {
		opts.MaxClaims = c.MaxClaims
	}
	opts.Prioritize = c.Prioritize
	return opts
}

// Select applies the priority filter and the size cap, keeping input order.
func Select(items []Request, opts BatchOptions) []Request {
	var out []Request
	for _, item := range items {
		if opts.Prioritize && !isPriority(item.Claim) {
			continue
		}
		out = append(out, item)
		if opts.MaxClaims > 0 && len(out) == opts.MaxClaims {
			break
		}
	}
	return out
}

func isPriority(claim model.Claim) bool {
	if claim.Type == model.ClaimTypeNumeric || claim.Type == model.ClaimTypePolicy {
		return true
	}
	return rules.IsPriorityLocator(claim.Locator)
}

// VerifyBatch verifies the selected items in groups of opts.Concurrency,
// pausing opts.Pacing between groups. A failed claim degrades to
// unverifiable; the batch itself never fails. If ctx ends between groups
// the claims not yet verified are left out of the result.
func (j *Judge) VerifyBatch(ctx context.Context, items []Request, opts BatchOptions) map[string]Result {
	selected := Select(items, opts)
	if len(selected) < len(items) {
		j.log.Info("judge batch narrowed",
			zap.Int("candidates", len(items)),
			zap.Int("selected", len(selected)))
	}

	type verified struct {
		res Result
		ok  bool
	}
	results, err := worker.RunGroups(ctx, selected, worker.GroupOptions{
		Size:  opts.Concurrency,
		Pause: opts.Pacing,
		Sleep: opts.Sleep,
	}, func(ctx context.Context, req Request) verified {
		res, err := j.Verify(ctx, req)
		if err != nil {
			j.log.Warn("claim verification failed, marking unverifiable",
				zap.String("locator", req.Claim.Locator), zap.Error(err))
			res.Warnings = append(res.Warnings, "verification failed: "+err.Error())
		}
		return verified{res: res, ok: true}
	})
	if err != nil {
		j.log.Warn("judge batch interrupted", zap.Error(err))
	}

	out := make(map[string]Result, len(selected))
	for i, v := range results {
		if v.ok {
			out[selected[i].Claim.Locator] = v.res
		}
	}
	return out
}
