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
	"os"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// Shutdown is the interrupt/terminate coordinator. Every live child is asked
// to exit (helpers lose their respawn flag first), then the coordinator waits
// up to children_max_timeout, force-kills the stragglers, invokes the
// parent-exit callback, and terminates the process.
func (m *ForkManager) Shutdown(sig os.Signal) {
	if m.role != RoleParent {
		return
	}
	m.exitRequested.Store(true)

	m.mu.Lock()
	timeout := m.childrenMaxTimeout
	var pids []int
	for pid, rec := range m.children {
		if rec.Status == ChildStopped {
			continue
		}
		if rec.Status == ChildHelper {
			rec.Respawn = false
		}
		pids = append(pids, pid)
	}
	m.mu.Unlock()

	m.logf(SeverityInfo, "shutdown on %v: asking %d children to exit", sig, len(pids))
	for _, pid := range pids {
		m.safeKill(pid, sigInterrupt)
	}

	time.Sleep(waitPoll)
	m.Reap()

	deadline := time.Now().Add(timeout)
	for m.CountActive("") > 0 && time.Now().Before(deadline) {
		time.Sleep(waitPoll)
		m.Housekeeping()
		m.Reap()
	}

	m.mu.Lock()
	var stragglers []int
	for pid, rec := range m.children {
		if rec.Status != ChildStopped {
			stragglers = append(stragglers, pid)
		}
	}
	m.mu.Unlock()

	for _, pid := range stragglers {
		m.logf(SeverityWarn, "child %d ignored the exit request, force-killing", pid)
		m.safeKill(pid, sigKill)
		m.mu.Lock()
		if rec, ok := m.children[pid]; ok {
			m.markStoppedLocked(rec)
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	exitCb := m.parentExit
	parentPID := m.parentPID
	m.mu.Unlock()
	if exitCb != nil {
		exitCb(parentPID, sig)
	}

	m.exitFn(exitCodeInterrupted)
}

// safeKill signals pid only when it is in the child table and the OS reports
// its parent process to be the current process, so a recycled pid can never
// be signalled by mistake. Returns false without signalling on any mismatch.
func (m *ForkManager) safeKill(pid int, sig syscall.Signal) bool {
	m.mu.Lock()
	_, tracked := m.children[pid]
	m.mu.Unlock()
	if !tracked {
		m.logf(SeverityWarn, "refusing to signal pid %d: not in the child table", pid)
		return false
	}

	p, err := process.NewProcess(int32(pid))
	if err != nil {
		m.logf(SeverityWarn, "refusing to signal pid %d: not in the OS process table", pid)
		return false
	}
	ppid, err := p.Ppid()
	if err != nil || int(ppid) != os.Getpid() {
		m.logf(SeverityWarn, "refusing to signal pid %d: not our child (ppid %d)", pid, ppid)
		return false
	}

	if err := unix.Kill(pid, sig); err != nil {
		m.logf(SeverityWarn, "kill %v pid %d: %v", sig, pid, err)
		return false
	}
	return true
}

// KillChildPid asks the given pids to exit with an interrupt, waits up to
// delay for them to go away, then force-kills whatever is left.
func (m *ForkManager) KillChildPid(pids []int, delay time.Duration) {
	if m.role != RoleParent {
		return
	}

	for _, pid := range pids {
		m.safeKill(pid, sigInterrupt)
	}

	deadline := time.Now().Add(delay)
	for time.Now().Before(deadline) {
		m.Reap()
		if !m.anyActive(pids) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	m.Reap()
	for _, pid := range pids {
		m.mu.Lock()
		rec, ok := m.children[pid]
		active := ok && rec.Status != ChildStopped
		m.mu.Unlock()
		if active {
			m.logf(SeverityWarn, "pid %d still alive after %s, force-killing", pid, delay)
			m.safeKill(pid, sigKill)
		}
	}
	m.Reap()
}

func (m *ForkManager) anyActive(pids []int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pid := range pids {
		if rec, ok := m.children[pid]; ok && rec.Status != ChildStopped {
			return true
		}
	}
	return false
}
