package sandbox

import (
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
)

// Fault makes one whole request fail. Delay is applied first; a zero Status
// lets the request proceed after the delay.
type Fault struct {
	Status  int
	Delay   time.Duration
	Message string
}

// Faults is a FIFO of faults, one consumed per ingest request.
type Faults struct {
	mu    sync.Mutex
	queue []Fault
}

// Push queues faults for the next requests.
func (f *Faults) Push(faults ...Fault) {
	f.mu.Lock()
	f.queue = append(f.queue, faults...)
	f.mu.Unlock()
}

// Repeat queues n copies of fault.
func (f *Faults) Repeat(n int, fault Fault) {
	for i := 0; i < n; i++ {
		f.Push(fault)
	}
}

// Pending returns the number of queued faults.
func (f *Faults) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

func (f *Faults) next() (Fault, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return Fault{}, false
	}
	fault := f.queue[0]
	f.queue = f.queue[1:]
	return fault, true
}

func (f Fault) message() string {
	if f.Message != "" {
		return f.Message
	}
	return http.StatusText(f.Status)
}

// grpcCode maps an HTTP status to the gRPC code the same failure would carry.
func grpcCode(status int) codes.Code {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return codes.DeadlineExceeded
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
