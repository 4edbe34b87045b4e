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
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/Nehonix-Team/XyPriss/tools/xypriss-forkd-go/internal/ipc"
)

// extractBatchLocked takes the next dispatchable work order off the bucket.
// Persistent buckets always produce an order carrying the bucket payload;
// otherwise up to max_work_per_child queued sets are taken off the head
// (exactly one identified set in single-item mode). Caller holds m.mu.
func (m *ForkManager) extractBatchLocked(b *Bucket) (ipc.WorkOrder, []WorkSet, bool) {
	if b.persistentMode {
		return ipc.WorkOrder{
			Kind:   ipc.OrderPersistent,
			Bucket: b.name,
			Data:   b.persistentData,
		}, nil, true
	}

	if len(b.queue) == 0 {
		return ipc.WorkOrder{}, nil, false
	}

	if b.singleWorkItem {
		ws := b.queue[0]
		b.queue = b.queue[1:]
		return ipc.WorkOrder{
			Kind:       ipc.OrderWork,
			Bucket:     b.name,
			Identifier: ws.Identifier,
			Items:      ws.Items,
		}, []WorkSet{ws}, true
	}

	n := b.maxWorkPerChild
	if n > len(b.queue) {
		n = len(b.queue)
	}
	taken := make([]WorkSet, n)
	copy(taken, b.queue[:n])
	b.queue = b.queue[n:]

	items := make([]any, 0, n)
	for _, ws := range taken {
		items = append(items, ws.Items...)
	}
	return ipc.WorkOrder{
		Kind:   ipc.OrderWork,
		Bucket: b.name,
		Items:  items,
	}, taken, true
}

// requeueLocked puts an extracted batch back at the head of the queue after a
// failed spawn, so no work is lost. Caller holds m.mu.
func (m *ForkManager) requeueLocked(b *Bucket, taken []WorkSet) {
	if len(taken) == 0 {
		return
	}
	b.queue = append(append([]WorkSet{}, taken...), b.queue...)
}

// dispatch extracts one batch from the bucket and spawns a worker for it.
// Returns false when the bucket had nothing to dispatch or the spawn failed.
func (m *ForkManager) dispatch(bucket string) bool {
	m.mu.Lock()
	b := m.bucketLocked(bucket)
	if b.maxChildren == 0 {
		// The bucket may hold work, but dispatch is disabled.
		m.mu.Unlock()
		return false
	}
	order, taken, ok := m.extractBatchLocked(b)
	m.mu.Unlock()
	if !ok {
		return false
	}

	_, err := m.spawnChild(order, ChildWorker, false, "", nil)
	if err != nil {
		m.mu.Lock()
		m.requeueLocked(m.bucketLocked(bucket), taken)
		m.mu.Unlock()
		return false
	}
	return true
}

// spawnChild re-executes the current binary as a child, hands it one end of a
// fresh channel pair as an inherited descriptor, records it in the table, and
// sends the work order as the first frame.
func (m *ForkManager) spawnChild(order ipc.WorkOrder, status ChildStatus, respawn bool, helperFunc string, helperArgs []any) (int, error) {
	if m.role != RoleParent {
		return 0, errors.New("forkd: spawn attempted from a child process")
	}

	m.mu.Lock()
	hooks := make([]PreforkFunc, len(m.prefork))
	copy(hooks, m.prefork)
	m.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}

	parentCh, childEnd, err := ipc.Pair()
	if err != nil {
		m.logf(SeverityCrit, "spawn failed for bucket %s: %v", order.Bucket, err)
		return 0, err
	}

	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		envChild+"=1",
		envBucket+"="+order.Bucket,
		envIdentifier+"="+order.Identifier,
	)
	cmd.ExtraFiles = []*os.File{childEnd}
	// Own process group, so terminal signals reach children only through the
	// supervisor's cascade.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		childEnd.Close()
		parentCh.Close()
		m.logf(SeverityCrit, "spawn failed for bucket %s: %v", order.Bucket, err)
		return 0, fmt.Errorf("forkd: spawn: %w", err)
	}
	childEnd.Close()

	pid := cmd.Process.Pid
	// The reaper collects exit status through wait4; release the handle so
	// os/exec never competes for it.
	_ = cmd.Process.Release()

	now := time.Now()
	rec := &ChildRecord{
		PID:        pid,
		Ctime:      now,
		Identifier: order.Identifier,
		Bucket:     order.Bucket,
		Status:     status,
		Respawn:    respawn,
		helperFunc: helperFunc,
		helperArgs: helperArgs,
		channel:    parentCh,
		lastActive: now,
	}

	m.mu.Lock()
	m.children[pid] = rec
	m.activeChildren++
	var forkCb ChildEventFunc
	if status == ChildWorker {
		forkCb = m.bucketLocked(order.Bucket).callbacks.parentFork
	}
	m.mu.Unlock()

	go m.readChild(rec)

	if err := parentCh.Send(mustWorkOrderMessage(order)); err != nil {
		// The child sees EOF once we close and exits without work; it stays
		// reapable either way.
		m.logf(SeverityCrit, "work order send to pid %d failed: %v", pid, err)
		parentCh.Close()
	}

	m.logf(SeverityInfo, "spawned %s %d for bucket %s (identifier %q)", status, pid, order.Bucket, order.Identifier)

	if forkCb != nil {
		forkCb(pid, order.Identifier)
	}
	return pid, nil
}

func mustWorkOrderMessage(order ipc.WorkOrder) ipc.Message {
	msg, err := ipc.NewMessage(ipc.MsgTypeWorkOrder, order)
	if err != nil {
		// Orders are built from caller-supplied payloads; an unencodable one
		// degrades to an empty frame and the child exits without work.
		return ipc.Message{Type: ipc.MsgTypeWorkOrder}
	}
	return msg
}

// readChild is the per-record frame reader. It delivers result frames into
// the record's buffer and flags the record drained at EOF. Malformed frames
// are dropped; the pid stays reapable.
func (m *ForkManager) readChild(rec *ChildRecord) {
	for {
		msg, err := rec.channel.Receive()
		if err != nil {
			var decodeErr *ipc.DecodeError
			if errors.As(err, &decodeErr) {
				m.logf(SeverityCrit, "dropping malformed frame from pid %d: %v", rec.PID, err)
				continue
			}
			if !errors.Is(err, ipc.ErrClosed) {
				m.logf(SeverityCrit, "channel error for pid %d: %v", rec.PID, err)
			}
			break
		}
		if msg.Type != ipc.MsgTypeResult {
			m.logf(SeverityWarn, "unexpected %s frame from pid %d", msg.Type, rec.PID)
			continue
		}
		var res ipc.Result
		if err := msg.Decode(&res); err != nil {
			m.logf(SeverityCrit, "dropping malformed result from pid %d: %v", rec.PID, err)
			continue
		}
		rec.pushFrame(res.Value)
	}
	rec.markDrained()
	rec.channel.Close()
}

// HelperProcessSpawn starts a long-lived helper child running the registered
// function under the given identifier. With respawn set, the reaper restarts
// the helper whenever it dies, until shutdown clears the flag. Returns the
// helper's pid.
func (m *ForkManager) HelperProcessSpawn(function string, args []any, identifier string, respawn bool) (int, error) {
	if m.role != RoleParent {
		return 0, errors.New("forkd: HelperProcessSpawn called from a child process")
	}

	m.mu.Lock()
	_, known := m.helpers[function]
	m.mu.Unlock()
	if !known {
		m.missingRequired("helper "+function, DefaultBucket)
		return 0, fmt.Errorf("forkd: helper %q is not registered", function)
	}

	if identifier == "" {
		identifier = uuid.NewString()
	}

	order := ipc.WorkOrder{
		Kind:       ipc.OrderHelper,
		Bucket:     DefaultBucket,
		Identifier: identifier,
		Function:   function,
		Args:       args,
	}
	return m.spawnChild(order, ChildHelper, respawn, function, args)
}

// HelperProcessRespawn restarts the helper tracked under identifier,
// regardless of its respawn flag.
func (m *ForkManager) HelperProcessRespawn(identifier string) (int, error) {
	if m.role != RoleParent {
		return 0, errors.New("forkd: HelperProcessRespawn called from a child process")
	}

	m.mu.Lock()
	var found *ChildRecord
	for _, rec := range m.children {
		if rec.Status != ChildWorker && rec.helperFunc != "" && rec.Identifier == identifier {
			found = rec
			break
		}
	}
	m.mu.Unlock()

	if found == nil {
		return 0, fmt.Errorf("forkd: no helper tracked under identifier %q", identifier)
	}
	return m.HelperProcessSpawn(found.helperFunc, found.helperArgs, identifier, found.Respawn)
}
