// Package boost runs the additive boosting loop (GBTree and DART) over a
// discretized dataset: per-iteration gradient computation against an
// Objective, concurrent tree construction via internal/tree, GBTree/DART
// weight assignment and raw-score bookkeeping, evaluation via
// internal/eval, callback-driven early stopping, and periodic checkpointing
// of the raw-score state.
package boost

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/histoboost/histoboost/internal/checkpoint"
	"github.com/histoboost/histoboost/internal/eval"
	"github.com/histoboost/histoboost/internal/execplane"
	"github.com/histoboost/histoboost/internal/model"
	"github.com/histoboost/histoboost/internal/objective"
	"github.com/histoboost/histoboost/internal/tree"
	"github.com/histoboost/histoboost/pkg/collections"
	"github.com/histoboost/histoboost/pkg/config"
	apperrors "github.com/histoboost/histoboost/pkg/errors"
	"github.com/histoboost/histoboost/pkg/log"
	"github.com/histoboost/histoboost/pkg/parallel"
)

var rawSlicePool = collections.NewSlicePool[float64](1024)

// resourceRecorder is a small per-Train-call registry of in-memory partition
// buffers borrowed from rawSlicePool: every buffer checked out while an
// iteration runs is tracked here and handed back to the pool in one sweep
// once that iteration's bookkeeping finishes, rather than relying on each
// call site to remember to put its own buffer back.
type resourceRecorder struct {
	checkedOut []*[]float64
}

func newResourceRecorder() *resourceRecorder {
	return &resourceRecorder{}
}

// checkout borrows a zero-length buffer from rawSlicePool and records it.
func (r *resourceRecorder) checkout() *[]float64 {
	buf := rawSlicePool.Get()
	*buf = (*buf)[:0]
	r.checkedOut = append(r.checkedOut, buf)
	return buf
}

// releaseIteration returns every buffer checked out since the last release
// to rawSlicePool and resets the registry for the next iteration.
func (r *resourceRecorder) releaseIteration() {
	for _, buf := range r.checkedOut {
		rawSlicePool.Put(buf)
	}
	r.checkedOut = r.checkedOut[:0]
}

var (
	metricsOnce      sync.Once
	emptyIterCounter metric.Int64Counter
	dartDropCounter  metric.Int64Counter
)

// boostMetrics lazily creates the counters tracked across every Train call:
// how often a round produces no usable split anywhere, and how many DART
// base models get dropped per round.
func boostMetrics() (metric.Int64Counter, metric.Int64Counter) {
	metricsOnce.Do(func() {
		meter := otel.Meter("histoboost")
		emptyIterCounter, _ = meter.Int64Counter("histoboost.boost.empty_iterations")
		dartDropCounter, _ = meter.Int64Counter("histoboost.boost.dart_drops")
	})
	return emptyIterCounter, dartDropCounter
}

// EvaluatorFactory builds a fresh, zero-state Evaluator; the driver calls
// it once per dataset per iteration since Evaluators accumulate state.
type EvaluatorFactory func() eval.Evaluator

// Callback receives a read-only model snapshot and the metric histories
// gathered so far, and may request early termination by returning true.
type Callback func(cfg *config.BoostConfig, snapshot *model.Model, iteration int, trainHistory, testHistory []map[string]float64) (stop bool)

// TrainConfig bundles everything one Train call needs.
type TrainConfig struct {
	Cfg        *config.BoostConfig
	Objective  objective.Objective
	Train      *Dataset
	Test       *Dataset
	Evaluators []EvaluatorFactory
	Callback   Callback
	Checkpoint *checkpoint.Manager
	RunID      string
	// Initial, if set, is an already-trained model the loop appends more
	// iterations to; the boosting round counter continues from
	// len(Initial.IterationRanges)+1, so seed-derived randomness for round N
	// is identical whether N was reached in one run or across a resume.
	Initial *model.Model
	Logger  log.Logger
}

// Train runs the boosting loop to completion (maxIter reached, an
// all-empty round, or a callback-requested stop) and returns the resulting
// model plus the per-iteration train/test metric histories.
func Train(ctx context.Context, tc *TrainConfig) (*model.Model, []map[string]float64, []map[string]float64, error) {
	cfg := tc.Cfg
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}
	if tc.Train == nil || tc.Train.NumRows == 0 {
		return nil, nil, nil, apperrors.Wrap(apperrors.CodeShapeMismatch, "boost: training dataset is empty", nil)
	}

	logger := tc.Logger
	if logger == nil {
		logger = log.NullLogger{}
	}

	rawSize := tc.Objective.RawSize()
	if rawSize != 1 {
		return nil, nil, nil, apperrors.New(apperrors.CodeConfigError,
			fmt.Sprintf("boost: objective %q has rawSize %d, the driver only supports rawSize 1", tc.Objective.Name(), rawSize))
	}
	numFeatures := len(tc.Train.NumBinsPerFeature)

	m := tc.Initial
	if m == nil {
		base := cfg.BaseScore
		if len(base) != rawSize {
			base = autoBaseScore(tc.Train, rawSize)
		}
		m = model.New(base, numFeatures)
	}
	startIter := len(m.IterationRanges) + 1

	tracer := otel.Tracer("histoboost")
	ctx, span := tracer.Start(ctx, "boost.Train")
	defer span.End()

	var trainHistory, testHistory []map[string]float64
	part := execplane.Partition(fullPartition(tc.Train.NumRows))

	isDART := cfg.BoostType == config.BoostTypeDART

	// perTreeRaw[i] is tree i's unweighted per-row leaf prediction, cached
	// so DART's per-round raw recomputation (excluding dropped trees)
	// doesn't have to re-walk every tree from scratch every iteration.
	var perTreeRaw [][]float64
	// rawAccum[o] is the GBTree-only running accumulated raw score.
	var rawAccum [][]float64

	if isDART {
		perTreeRaw = make([][]float64, len(m.Trees))
		for i, t := range m.Trees {
			perTreeRaw[i] = predictTreeColumn(t, tc.Train)
		}
	} else {
		rawAccum = make([][]float64, rawSize)
		for o := range rawAccum {
			rawAccum[o] = make([]float64, tc.Train.NumRows)
			for r := 0; r < tc.Train.NumRows; r++ {
				rawAccum[o][r] = m.BaseScore[o]
			}
			for i, t := range m.Trees {
				if m.Outputs[i] != o {
					continue
				}
				w := m.Weights[i]
				for r := 0; r < tc.Train.NumRows; r++ {
					rawAccum[o][r] += w * t.Predict(tc.Train.Row(r))
				}
			}
		}
	}

	emptyCounter, dropCounter := boostMetrics()
	rec := newResourceRecorder()

	lastIter := startIter - 1
	lastCheckpoint := -1
	for iteration := startIter; iteration <= cfg.MaxIter; iteration++ {
		lastIter = iteration
		iterCtx, iterSpan := tracer.Start(ctx, "boost.iteration")
		numBaseModels := len(m.Trees) / rawSize

		var droppedTrees map[int]bool
		if isDART {
			dropRng := newRand(cfg.Seed, iteration, 0)
			droppedBase := sampleDropout(dropRng, numBaseModels, cfg)
			droppedTrees = expandBaseModels(droppedBase, rawSize)
			if k := len(droppedBase); k > 0 {
				dropCounter.Add(iterCtx, int64(k))
			}
		}

		raw := effectiveRaw(m, tc.Train, rawSize, isDART, rawAccum, perTreeRaw, droppedTrees, rec)

		grad := make([][]float64, rawSize)
		hess := make([][]float64, rawSize)
		for o := 0; o < rawSize; o++ {
			score := tc.Objective.Transform(raw[o])
			g, h := tc.Objective.Compute(tc.Train.Label[o], score)
			for r := 0; r < tc.Train.NumRows; r++ {
				w := tc.Train.weightOf(r)
				g[r] *= w
				h[r] *= w
			}
			grad[o] = g
			hess[o] = h
		}

		leafScale := cfg.StepSize
		if isDART {
			leafScale = 1.0
		}

		// Tasks are ordered replica-major, output-minor so that base model b
		// (for dropout purposes) owns the contiguous tree-index range
		// [b*rawSize, (b+1)*rawSize) regardless of baseModelParallelism.
		type buildTask struct {
			output  int
			replica int
		}
		var tasks []buildTask
		for rep := 0; rep < cfg.BaseModelParallelism; rep++ {
			for o := 0; o < rawSize; o++ {
				tasks = append(tasks, buildTask{output: o, replica: rep})
			}
		}

		type buildResult struct {
			output int
			tree   *tree.Tree
		}
		results := parallel.MapReduce(iterCtx, tasks, parallel.DefaultPoolConfig(),
			func(ctx context.Context, task buildTask) buildResult {
				rowIDs := sampleRows(part, cfg, deriveSeed(cfg.Seed, iteration, task.output, task.replica, 1))
				growRng := newRand(cfg.Seed, iteration, task.output, task.replica, 2)
				grown := tree.Grow(ctx, tc.Train.Bins, tc.Train.NumBinsPerFeature, tc.Train.FeatureKinds,
					rowIDs, grad[task.output], hess[task.output], cfg, growRng, leafScale)
				return buildResult{output: task.output, tree: grown}
			},
			func(mapped []buildResult) []buildResult { return mapped },
		)

		empty := true
		for _, res := range results {
			if res.tree.NumLeaves() > 1 {
				empty = false
				break
			}
		}
		if empty {
			logger.Warn("boost: empty iteration %d, terminating", iteration)
			lastIter = iteration - 1
			emptyCounter.Add(iterCtx, 1)
			rec.releaseIteration()
			iterSpan.End()
			break
		}

		k := len(droppedTrees) / rawSize
		numReplicas := float64(cfg.BaseModelParallelism)
		var newWeight float64
		switch {
		case !isDART:
			newWeight = cfg.StepSize / numReplicas
		case k == 0:
			newWeight = 1 / numReplicas
		default:
			newWeight = 1 / (float64(k) + cfg.StepSize) / numReplicas
		}

		builtTrees := make([]*tree.Tree, len(results))
		builtOutputs := make([]int, len(results))
		builtWeights := make([]float64, len(results))
		for i, res := range results {
			builtTrees[i] = res.tree
			builtOutputs[i] = res.output
			builtWeights[i] = newWeight
		}

		if isDART && k > 0 {
			factor := float64(k) / (float64(k) + cfg.StepSize)
			for idx := range droppedTrees {
				m.Weights[idx] *= factor
			}
		}

		m.AppendIteration(builtTrees, builtWeights, builtOutputs)

		if isDART {
			for _, t := range builtTrees {
				perTreeRaw = append(perTreeRaw, predictTreeColumn(t, tc.Train))
			}
		} else {
			for i, t := range builtTrees {
				o := builtOutputs[i]
				w := builtWeights[i]
				for r := 0; r < tc.Train.NumRows; r++ {
					rawAccum[o][r] += w * t.Predict(tc.Train.Row(r))
				}
			}
		}

		trainMetrics := evaluateDataset(tc.Train, m, tc.Objective, tc.Evaluators)
		trainHistory = append(trainHistory, trainMetrics)
		if tc.Test != nil {
			testMetrics := evaluateDataset(tc.Test, m, tc.Objective, tc.Evaluators)
			testHistory = append(testHistory, testMetrics)
		}

		if tc.Callback != nil && tc.Callback(cfg, m, iteration, trainHistory, testHistory) {
			logger.Info("boost: callback requested stop at iteration %d", iteration)
			rec.releaseIteration()
			iterSpan.End()
			break
		}

		if tc.Checkpoint != nil && cfg.CheckpointInterval > 0 && iteration%cfg.CheckpointInterval == 0 {
			raw := effectiveRaw(m, tc.Train, rawSize, isDART, rawAccum, perTreeRaw, nil, rec)
			payload, err := encodeRawSnapshot(iteration, raw)
			if err == nil {
				if err := tc.Checkpoint.Save(iterCtx, tc.RunID, iteration, payload); err != nil {
					logger.Warn("boost: checkpoint save failed at iteration %d: %v", iteration, err)
				} else {
					if lastCheckpoint >= 0 {
						if err := tc.Checkpoint.Delete(iterCtx, tc.RunID, lastCheckpoint); err != nil {
							logger.Warn("boost: checkpoint delete failed for iteration %d: %v", lastCheckpoint, err)
						}
					}
					lastCheckpoint = iteration
				}
			}
		}

		rec.releaseIteration()
		iterSpan.End()
	}

	logger.Info("boost: training complete after %d iterations, %d trees", lastIter, m.NumTrees())
	return m, trainHistory, testHistory, nil
}

// autoBaseScore returns the label mean per output when BaseScore isn't
// explicitly configured.
func autoBaseScore(ds *Dataset, rawSize int) []float64 {
	out := make([]float64, rawSize)
	for o := 0; o < rawSize; o++ {
		var sumW, sumWY float64
		for r := 0; r < ds.NumRows; r++ {
			w := ds.weightOf(r)
			sumW += w
			sumWY += w * ds.Label[o][r]
		}
		if sumW > 0 {
			out[o] = sumWY / sumW
		}
	}
	return out
}

func predictTreeColumn(t *tree.Tree, ds *Dataset) []float64 {
	out := make([]float64, ds.NumRows)
	for r := 0; r < ds.NumRows; r++ {
		out[r] = t.Predict(ds.Row(r))
	}
	return out
}

// effectiveRaw computes spec.md §4.5 step 2's per-output raw score: GBTree
// reads the maintained accumulator directly (it never drops trees); DART
// sums baseScore plus every non-dropped tree's cached per-row leaf value,
// scaled by its current weight.
func effectiveRaw(m *model.Model, ds *Dataset, rawSize int, isDART bool, rawAccum, perTreeRaw [][]float64, dropped map[int]bool, rec *resourceRecorder) [][]float64 {
	if !isDART {
		out := make([][]float64, rawSize)
		for o := range out {
			out[o] = rawAccum[o]
		}
		return out
	}

	out := make([][]float64, rawSize)
	for o := range out {
		buf := rec.checkout()
		for r := 0; r < ds.NumRows; r++ {
			*buf = append(*buf, m.BaseScore[o])
		}
		for i, raw := range perTreeRaw {
			if m.Outputs[i] != o || dropped[i] {
				continue
			}
			w := m.Weights[i]
			for r := 0; r < ds.NumRows; r++ {
				(*buf)[r] += w * raw[r]
			}
		}
		out[o] = append([]float64(nil), *buf...)
	}
	return out
}

func sampleRows(part execplane.Partition, cfg *config.BoostConfig, seed int64) []int32 {
	if cfg.SampleBlocks {
		return execplane.SampleBlocks(part, cfg.BlockSize, cfg.SubSample, seed)
	}
	return execplane.SampleInstances(part, cfg.SubSample, seed)
}

// evaluateDataset folds every configured Evaluator over ds in one pass,
// transforming each row's raw score through obj's link function before
// handing (weight, label, raw, score) to the evaluator, per spec.md §6's
// evaluation contract.
func evaluateDataset(ds *Dataset, m *model.Model, obj objective.Objective, factories []EvaluatorFactory) map[string]float64 {
	raw := make([]float64, ds.NumRows)
	for r := 0; r < ds.NumRows; r++ {
		raw[r] = m.Predict(ds.Row(r), 0)[0]
	}
	score := obj.Transform(raw)

	metrics := make(map[string]float64, len(factories))
	for _, f := range factories {
		ev := f()
		metrics[ev.Name()] = eval.EvaluateBatch(ev, weightColumn(ds), ds.Label[0], raw, score)
	}
	return metrics
}

func weightColumn(ds *Dataset) []float64 {
	if ds.Weight != nil {
		return ds.Weight
	}
	out := make([]float64, ds.NumRows)
	for i := range out {
		out[i] = 1
	}
	return out
}
