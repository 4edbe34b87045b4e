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
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// waitPoll is the spin interval while blocking on busy buckets.
const waitPoll = 1 * time.Second

// killGrace is how long housekeeping waits after force-killing a timed-out
// child before reaping it.
const killGrace = 3 * time.Second

// ProcessWork drives the dispatcher for one bucket or all of them.
//
// Blocking mode dispatches until the bucket queue is empty, waiting whenever
// the bucket is at its child budget, then waits for the last child and
// invokes the parent-exit callback. Non-blocking mode dispatches as many
// batches as the budget allows and returns.
//
// In a child process ProcessWork runs the child loop instead: it executes the
// work order received from the parent and exits; it never returns.
func (m *ForkManager) ProcessWork(blocking bool, bucket string, allBuckets bool) error {
	if m.role == RoleChild {
		m.childMain()
		return nil // unreachable; childMain exits the process
	}

	if allBuckets {
		for _, name := range m.BucketList(true) {
			if err := m.ProcessWork(blocking, name, false); err != nil {
				return err
			}
		}
		return nil
	}

	m.Housekeeping()

	if !blocking {
		for m.CountActive(bucket) < m.MaxChildren(bucket) &&
			(m.ChildPersistentMode(bucket) || m.WorkSetsCount(bucket, false) > 0) {
			if !m.dispatch(bucket) {
				break
			}
		}
		return nil
	}

	for m.WorkSetsCount(bucket, false) > 0 {
		if m.MaxChildren(bucket) == 0 {
			// A zero-budget bucket accepts work but never forks.
			m.logf(SeverityWarn, "bucket %s holds work but max_children is 0, leaving queue untouched", bucket)
			break
		}
		for m.CountActive(bucket) >= m.MaxChildren(bucket) {
			time.Sleep(waitPoll)
			m.Housekeeping()
			m.Reap()
		}
		if !m.dispatch(bucket) && m.WorkSetsCount(bucket, false) > 0 {
			return errors.New("forkd: dispatch failed with work queued")
		}
	}

	for m.CountActive(bucket) > 0 {
		time.Sleep(waitPoll)
		m.Housekeeping()
		m.Reap()
	}

	m.mu.Lock()
	exitCb := m.parentExit
	pid := m.parentPID
	m.mu.Unlock()
	if exitCb != nil {
		exitCb(pid, nil)
	}
	return nil
}

// Housekeeping runs a timer-bounded pass: it enforces per-bucket run-time and
// memory limits on live children and re-drives the reaper. At most one pass
// per housekeeping_check_interval.
func (m *ForkManager) Housekeeping() {
	if m.role != RoleParent {
		return
	}

	m.mu.Lock()
	if time.Since(m.lastHousekeeping) < m.housekeepingInterval {
		m.mu.Unlock()
		return
	}
	m.lastHousekeeping = time.Now()

	type victim struct {
		pid     int
		ident   string
		bucket  string
		timeout ChildEventFunc
		reason  string
	}
	var victims []victim
	now := time.Now()
	for pid, rec := range m.children {
		if rec.Status == ChildStopped {
			continue
		}
		b := m.bucketLocked(rec.Bucket)
		if b.childMaxRunTime >= 0 && now.Sub(rec.Ctime) > time.Duration(b.childMaxRunTime)*time.Second {
			victims = append(victims, victim{
				pid:     pid,
				ident:   rec.Identifier,
				bucket:  rec.Bucket,
				timeout: b.callbacks.childTimeout,
				reason:  "exceeded max run time",
			})
			continue
		}
		if b.maxChildMemoryMB > 0 {
			if rss, ok := residentMemoryMB(pid); ok && rss > b.maxChildMemoryMB {
				victims = append(victims, victim{
					pid:    pid,
					ident:  rec.Identifier,
					bucket: rec.Bucket,
					reason: "exceeded memory limit",
				})
			}
		}
	}
	m.mu.Unlock()

	for _, v := range victims {
		m.logf(SeverityWarn, "killing child %d of bucket %s: %s", v.pid, v.bucket, v.reason)
		if v.timeout != nil {
			v.timeout(v.pid, v.ident)
		}
		if m.safeKill(v.pid, sigKill) {
			time.Sleep(killGrace)
		}
		m.Reap()
	}

	m.Reap()
}

// residentMemoryMB reads a child's RSS through the OS process table.
func residentMemoryMB(pid int) (int, bool) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0, false
	}
	mem, err := p.MemoryInfo()
	if err != nil || mem == nil {
		return 0, false
	}
	return int(mem.RSS / 1024 / 1024), true
}
