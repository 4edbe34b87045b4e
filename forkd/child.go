/* *****************************************************************************
 * Nehonix XyPriss System CLI
 *
 * ACCESS RESTRICTIONS:
 * - This software is exclusively for use by Authorized Personnel of NEHONIX
 * - Intended for Internal Use only within NEHONIX operations
 * - No rights granted to unauthorized individuals or entities
 * - All modifications are works made for hire assigned to NEHONIX
 *
 * PROHIBITED ACTIVITIES:
 * - Copying, distributing, or sublicensing without written permission
 * - Reverse engineering, decompiling, or disassembling
 * - Creating derivative works without explicit authorization
 * - External use or commercial distribution outside NEHONIX
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 * For questions or permissions, contact:
 * NEHONIX Legal Department
 * Email: legal@nehonix.com
 * Website: www.nehonix.com
 ***************************************************************************** */

package forkd

import (
	"sync"
	"time"

	"github.com/Nehonix-Team/XyPriss/tools/xypriss-forkd-go/internal/ipc"
)

// ChildStatus is the lifecycle state of a tracked child process.
type ChildStatus int

const (
	ChildWorker ChildStatus = iota // consuming a batch from a bucket queue
	ChildHelper                    // long-lived helper, optionally respawned
	ChildStopped                   // reaped, record kept until drained
)

func (s ChildStatus) String() string {
	switch s {
	case ChildWorker:
		return "worker"
	case ChildHelper:
		return "helper"
	case ChildStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ChildRecord is the parent's bookkeeping for one spawned child, keyed by pid
// in the manager's table.
type ChildRecord struct {
	PID        int
	Ctime      time.Time
	Identifier string
	Bucket     string
	Status     ChildStatus

	// Helper respawn bookkeeping.
	Respawn    bool
	helperFunc string
	helperArgs []any
	restarts   uint32

	channel *ipc.Channel

	// frameMu guards the fields below; they are shared with the record's
	// frame-reader goroutine.
	frameMu    sync.Mutex
	frames     []any
	drained    bool
	lastActive time.Time
}

// pushFrame appends an arrived result value (reader goroutine side).
func (r *ChildRecord) pushFrame(v any) {
	r.frameMu.Lock()
	r.frames = append(r.frames, v)
	r.lastActive = time.Now()
	r.frameMu.Unlock()
}

// takeFrames removes and returns every arrived result value.
func (r *ChildRecord) takeFrames() []any {
	r.frameMu.Lock()
	defer r.frameMu.Unlock()
	out := r.frames
	r.frames = nil
	return out
}

// markDrained records that the child's channel hit EOF.
func (r *ChildRecord) markDrained() {
	r.frameMu.Lock()
	r.drained = true
	r.frameMu.Unlock()
}

// pending reports whether the channel still has undelivered frames, either
// buffered in the record or possibly in flight before EOF.
func (r *ChildRecord) pending() bool {
	r.frameMu.Lock()
	defer r.frameMu.Unlock()
	return len(r.frames) > 0 || !r.drained
}

// buffered reports whether result values are waiting in the record.
func (r *ChildRecord) buffered() bool {
	r.frameMu.Lock()
	defer r.frameMu.Unlock()
	return len(r.frames) > 0
}

// isDrained reports whether the reader goroutine has observed EOF.
func (r *ChildRecord) isDrained() bool {
	r.frameMu.Lock()
	defer r.frameMu.Unlock()
	return r.drained
}

// markStoppedLocked transitions a record into ChildStopped and decrements the
// active counter exactly once. Caller holds m.mu.
func (m *ForkManager) markStoppedLocked(rec *ChildRecord) {
	if rec.Status == ChildStopped {
		return
	}
	rec.Status = ChildStopped
	m.activeChildren--
}

// lookupChild returns the record for pid.
func (m *ForkManager) lookupChild(pid int) (*ChildRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.children[pid]
	return rec, ok
}

// countActiveLocked counts records not yet stopped, optionally filtered by
// bucket. Caller holds m.mu.
func (m *ForkManager) countActiveLocked(bucket string) int {
	if bucket == "" {
		return m.activeChildren
	}
	n := 0
	for _, rec := range m.children {
		if rec.Status != ChildStopped && rec.Bucket == bucket {
			n++
		}
	}
	return n
}

// CountActive returns the number of live children, optionally filtered by
// bucket (empty string counts every bucket).
func (m *ForkManager) CountActive(bucket string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countActiveLocked(bucket)
}

// CountPending counts children that are live or whose channel still has
// undelivered frames, optionally filtered by bucket.
func (m *ForkManager) CountPending(bucket string) int {
	m.mu.Lock()
	recs := make([]*ChildRecord, 0, len(m.children))
	for _, rec := range m.children {
		if bucket == "" || rec.Bucket == bucket {
			recs = append(recs, rec)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, rec := range recs {
		if rec.Status != ChildStopped || rec.pending() {
			n++
		}
	}
	return n
}

// IsWorkRunning reports whether a worker with the given identifier is active
// on the bucket.
func (m *ForkManager) IsWorkRunning(identifier, bucket string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.children {
		if rec.Status == ChildWorker && rec.Identifier == identifier && (bucket == "" || rec.Bucket == bucket) {
			return true
		}
	}
	return false
}

// WorkRunning returns the identifiers of the bucket's active workers keyed by
// pid.
func (m *ForkManager) WorkRunning(bucket string) map[int]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]string)
	for pid, rec := range m.children {
		if rec.Status == ChildWorker && (bucket == "" || rec.Bucket == bucket) {
			out[pid] = rec.Identifier
		}
	}
	return out
}
