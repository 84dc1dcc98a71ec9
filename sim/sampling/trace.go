package sampling

// Point is one recorded (time, state) observation.
type Point[S any] struct {
	Time  float64
	State S
}

// TraceRecorder keeps the full state trajectory of the latest replica.
// Start discards the previous replica's points.
type TraceRecorder[S any] struct {
	points  []Point[S]
	endTime float64
	ended   bool
}

// NewTraceRecorder creates an empty recorder.
func NewTraceRecorder[S any]() *TraceRecorder[S] {
	return &TraceRecorder[S]{}
}

func (r *TraceRecorder[S]) Start() {
	r.points = r.points[:0]
	r.endTime = 0
	r.ended = false
}

func (r *TraceRecorder[S]) Sample(time float64, state S) {
	r.points = append(r.points, Point[S]{Time: time, State: state})
}

func (r *TraceRecorder[S]) End(time float64) {
	r.endTime = time
	r.ended = true
}

// TimeSeries returns nil: a trace records states, not scalar measures.
func (r *TraceRecorder[S]) TimeSeries() []*TimeSeries {
	return nil
}

// Points returns a copy of the recorded observations.
func (r *TraceRecorder[S]) Points() []Point[S] {
	out := make([]Point[S], len(r.points))
	copy(out, r.points)
	return out
}

// Last returns the last recorded observation.
func (r *TraceRecorder[S]) Last() (Point[S], bool) {
	if len(r.points) == 0 {
		return Point[S]{}, false
	}
	return r.points[len(r.points)-1], true
}

// EndTime returns the time passed to End and whether End was called.
func (r *TraceRecorder[S]) EndTime() (float64, bool) {
	return r.endTime, r.ended
}
