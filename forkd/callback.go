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
)

// Callback signatures. The source material resolved callbacks by symbolic
// name; here every slot holds an explicit function value and registration
// validates it eagerly.

// ChildRunFunc executes one batch inside a worker. A non-nil return value is
// sent to the parent as a single result frame.
type ChildRunFunc func(items []any, identifier string) any

// ChildHookFunc runs inside a child on hangup or exit, with its bucket name.
type ChildHookFunc func(bucket string)

// ChildEventFunc runs in the parent for per-child events (fork, exit, timeout).
type ChildEventFunc func(pid int, identifier string)

// ResultFunc receives one result value as it is posted from a child channel.
type ResultFunc func(value any)

// PreforkFunc runs in the parent immediately before each spawn, in
// registration order. Intended for resource cleanup hooks.
type PreforkFunc func()

// ParentExitFunc runs when the supervisor finishes a blocking run (sig is nil)
// or shuts down after an interrupt (sig is the delivered signal).
type ParentExitFunc func(pid int, sig os.Signal)

// HelperFunc is a long-lived function executed by a helper child. Helpers are
// spawned by registered name so the function is resolvable after re-exec.
type HelperFunc func(args []any)

// bucketCallbacks are the six per-bucket slots plus the results sink.
type bucketCallbacks struct {
	childRun          ChildRunFunc
	childExit         ChildHookFunc
	childSighup       ChildHookFunc
	childTimeout      ChildEventFunc
	parentFork        ChildEventFunc
	parentChildExited ChildEventFunc
	parentResults     ResultFunc
}

// RegisterChildRun sets the required run callback for a bucket.
func (m *ForkManager) RegisterChildRun(fn ChildRunFunc, bucket string) bool {
	if fn == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucketLocked(bucket).callbacks.childRun = fn
	return true
}

// RegisterChildExit sets the callback a child invokes when asked to exit.
func (m *ForkManager) RegisterChildExit(fn ChildHookFunc, bucket string) bool {
	if fn == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucketLocked(bucket).callbacks.childExit = fn
	return true
}

// RegisterChildSighup sets the callback a child invokes on hangup.
func (m *ForkManager) RegisterChildSighup(fn ChildHookFunc, bucket string) bool {
	if fn == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucketLocked(bucket).callbacks.childSighup = fn
	return true
}

// RegisterChildTimeout sets the parent-side callback invoked when a child
// overruns the bucket's max run time.
func (m *ForkManager) RegisterChildTimeout(fn ChildEventFunc, bucket string) bool {
	if fn == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucketLocked(bucket).callbacks.childTimeout = fn
	return true
}

// RegisterParentPrefork appends a pre-spawn hook. Hooks run in registration
// order before every fork.
func (m *ForkManager) RegisterParentPrefork(fn PreforkFunc) bool {
	if fn == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefork = append(m.prefork, fn)
	return true
}

// RegisterParentFork sets the parent-side post-spawn callback for a bucket.
func (m *ForkManager) RegisterParentFork(fn ChildEventFunc, bucket string) bool {
	if fn == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucketLocked(bucket).callbacks.parentFork = fn
	return true
}

// RegisterParentSighup sets the parent hangup callback. With cascade enabled,
// a hangup received by the parent is forwarded to every tracked child.
func (m *ForkManager) RegisterParentSighup(fn func(), cascade bool) bool {
	if fn == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parentSighup = fn
	m.sighupCascade = cascade
	return true
}

// RegisterParentChildExit sets the parent-side callback invoked when a worker
// of the bucket is reaped.
func (m *ForkManager) RegisterParentChildExit(fn ChildEventFunc, bucket string) bool {
	if fn == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucketLocked(bucket).callbacks.parentChildExited = fn
	return true
}

// RegisterParentResults sets the per-bucket result sink. When registered,
// posted results go to the callback instead of the stored result queue.
func (m *ForkManager) RegisterParentResults(fn ResultFunc, bucket string) bool {
	if fn == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucketLocked(bucket).callbacks.parentResults = fn
	return true
}

// RegisterParentExit sets the callback invoked when a blocking run drains or
// the supervisor shuts down.
func (m *ForkManager) RegisterParentExit(fn ParentExitFunc) bool {
	if fn == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parentExit = fn
	return true
}

// RegisterHelper registers a named helper function. The same registration
// must run in both parent and child processes, since a spawned helper
// resolves the function by name after re-exec.
func (m *ForkManager) RegisterHelper(name string, fn HelperFunc) bool {
	if name == "" || fn == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.helpers[name] = fn
	return true
}

// missingRequired logs the CRIT event for an unresolvable required callback.
// The call itself becomes a no-op; the supervisor continues.
func (m *ForkManager) missingRequired(slot, bucket string) {
	m.logf(SeverityCrit, "required callback %s is not registered for bucket %s", slot, bucket)
}
