package rawimage

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// Task is a kind of row-range work run on a Data.
type Task int

const (
	TaskScaleValues  Task = 1
	TaskFixBadPixels Task = 2
	TaskApplyLookup  Task = 3 | taskFullImage

	// taskFullImage makes the task cover the uncropped height.
	taskFullImage Task = 0x1000
)

func (t Task) String() string {
	switch t {
	case TaskScaleValues:
		return "scale values"
	case TaskFixBadPixels:
		return "fix bad pixels"
	case TaskApplyLookup:
		return "apply lookup"
	default:
		return fmt.Sprintf("Task(%#x)", int(t))
	}
}

// RowRange is the half-open row interval [Start, End).
type RowRange struct {
	Start int
	End   int
}

// Partition splits [0, height) into at most n contiguous ranges whose lengths differ
// by one row at most, the longer ranges first.
func Partition(height, n int) []RowRange {
	if height <= 0 {
		return nil
	}
	n = max(min(n, height), 1)
	per, rem := height/n, height%n
	ranges := make([]RowRange, 0, n)
	for i, start := 0, 0; i < n; i++ {
		end := start + per
		if i < rem {
			end++
		}
		ranges = append(ranges, RowRange{Start: start, End: end})
		start = end
	}
	return ranges
}

// ParallelRows calls fn once per range of Partition(height, threads), concurrently,
// and returns when every call has returned. With threads <= 1, fn runs inline over [0, height).
func ParallelRows(threads, height int, fn func(start, end int)) {
	if height <= 0 {
		return
	}
	if threads <= 1 {
		fn(0, height)
		return
	}

	var wg sync.WaitGroup
	for _, r := range Partition(height, threads) {
		wg.Add(1)
		go func(r RowRange) {
			defer wg.Done()
			fn(r.Start, r.End)
		}(r)
	}
	wg.Wait()
}

type worker struct {
	data  *Data
	task  Task
	start int
	end   int
}

// performTask runs the task over the worker rows. Failures are recorded on the image.
func (w *worker) performTask() {
	var err error
	switch w.task {
	case TaskScaleValues:
		err = w.data.scaleValues(w.start, w.end)
	case TaskFixBadPixels:
		err = w.data.fixBadPixelsThread(w.start, w.end)
	case TaskApplyLookup:
		err = w.data.doLookup(w.start, w.end)
	default:
		err = UnsupportedError(w.task.String())
	}
	if err != nil {
		w.data.SetError(errors.Wrapf(err, "%s [%d,%d)", w.task, w.start, w.end))
	}
}

// startWorker dispatches task over the cropped or uncropped height and returns the
// first error recorded by this dispatch, once every worker is done.
func (d *Data) startWorker(task Task, cropped bool) error {
	height := d.dim.Y
	if !cropped || task&taskFullImage != 0 {
		height = d.uncropped.Y
	}

	before := d.errorCount()
	ParallelRows(d.threads, height, func(start, end int) {
		w := worker{data: d, task: task, start: start, end: end}
		w.performTask()
	})
	return d.firstErrorSince(before)
}
