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
	"time"

	"golang.org/x/sys/unix"

	"github.com/Nehonix-Team/XyPriss/tools/xypriss-forkd-go/internal/ipc"
)

// Respawn storm protection for helpers, same thresholds the worker cluster
// uses for rapid restarts.
const (
	maxRapidRespawns   = 5
	rapidRespawnWindow = 10 * time.Second
	respawnCooldown    = 30 * time.Second
)

// Reap drains every exited child without blocking: wait4 with WNOHANG until
// the OS reports no more state changes. Each reaped worker fires the bucket's
// child-exited callback, each dead helper with the respawn flag is restarted,
// and arrived result frames are posted. Safe to call opportunistically; the
// no-child case is swallowed.
func (m *ForkManager) Reap() {
	if m.role != RoleParent {
		return
	}

	buckets := make(map[string]bool)
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		if err == unix.ECHILD {
			// Nothing left to reap; the reaper is invoked opportunistically.
			break
		}
		if err != nil {
			m.logf(SeverityWarn, "wait4: %v", err)
			break
		}
		if pid <= 0 {
			break
		}

		exitCode := ws.ExitStatus()
		if ws.Signaled() {
			exitCode = 128 + int(ws.Signal())
		}

		m.mu.Lock()
		rec, known := m.children[pid]
		if !known {
			m.mu.Unlock()
			// User code may fork its own subprocesses; not ours to track.
			m.logf(SeverityInfo, "reaped unknown pid %d (exit code %d)", pid, exitCode)
			continue
		}

		wasWorker := rec.Status == ChildWorker
		wasHelper := rec.Status == ChildHelper
		respawn := rec.Respawn
		var exitCb ChildEventFunc
		if wasWorker {
			exitCb = m.bucketLocked(rec.Bucket).callbacks.parentChildExited
		}
		wasActive := rec.Status != ChildStopped
		m.markStoppedLocked(rec)
		m.mu.Unlock()

		m.logf(SeverityInfo, "reaped %d (exit code %d)", pid, exitCode)
		if wasActive {
			m.stats.record(rec.Bucket, time.Since(rec.Ctime))
		}
		buckets[rec.Bucket] = true

		if wasWorker && exitCb != nil {
			exitCb(pid, rec.Identifier)
		}
		if wasHelper && respawn {
			m.respawnHelper(rec)
		}
	}

	for bucket := range buckets {
		m.postResults(bucket)
	}
}

// respawnHelper restarts a dead helper with its original function and
// arguments. Rapid deaths trip a cooldown so a crash-looping helper cannot
// saturate the dispatcher.
func (m *ForkManager) respawnHelper(dead *ChildRecord) {
	restarts := dead.restarts
	if time.Since(dead.Ctime) < rapidRespawnWindow {
		restarts++
	} else {
		restarts = 0
	}
	if restarts >= maxRapidRespawns {
		m.logf(SeverityWarn, "helper %q died %d times in quick succession, cooling down %s",
			dead.Identifier, restarts, respawnCooldown)
		time.Sleep(respawnCooldown)
		restarts = 0
	}

	m.logf(SeverityInfo, "respawning helper %q (was pid %d)", dead.Identifier, dead.PID)
	pid, err := m.spawnChild(helperOrder(dead), ChildHelper, true, dead.helperFunc, dead.helperArgs)
	if err != nil {
		m.logf(SeverityCrit, "helper %q respawn failed: %v", dead.Identifier, err)
		return
	}

	m.mu.Lock()
	if rec, ok := m.children[pid]; ok {
		rec.restarts = restarts
	}
	m.mu.Unlock()
}

// helperOrder rebuilds the work order for a helper restart.
func helperOrder(rec *ChildRecord) ipc.WorkOrder {
	return ipc.WorkOrder{
		Kind:       ipc.OrderHelper,
		Bucket:     rec.Bucket,
		Identifier: rec.Identifier,
		Function:   rec.helperFunc,
		Args:       rec.helperArgs,
	}
}
