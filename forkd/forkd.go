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

// Package forkd implements a forking work-dispatch supervisor: a long-lived
// parent process that spawns, tracks, and reaps short-lived worker processes
// consuming bucketed work queues, plus long-lived helper processes respawned
// on death. Each child talks to the parent over a private length-prefix
// framed channel.
//
// Because Go cannot fork a live runtime, "fork" is a re-exec of the current
// binary with a marker in the environment. The embedding program's setup code
// runs again in the child, so callbacks registered before ProcessWork are
// resolvable in both roles; the work order itself arrives as the first frame
// on the child's channel.
package forkd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Nehonix-Team/XyPriss/tools/xypriss-forkd-go/internal/ipc"
)

// Severity levels for supervisor log events.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
	SeverityCrit
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarn:
		return "WARN"
	case SeverityError:
		return "ERROR"
	case SeverityCrit:
		return "CRIT"
	default:
		return "UNKNOWN"
	}
}

// LogFunc is a pluggable log sink.
type LogFunc func(severity Severity, msg string)

// Role distinguishes the supervising parent from a spawned child.
type Role int

const (
	RoleParent Role = iota
	RoleChild
)

// Environment contract between parent and spawned children.
const (
	envChild      = "XYFORKD_CHILD"
	envBucket     = "XYFORKD_BUCKET"
	envIdentifier = "XYFORKD_IDENT"
)

// channelFD is where the child finds its inherited channel endpoint.
const channelFD = 3

// exitCodeInterrupted is the process status after an interrupt-driven exit
// (the two's-complement rendering of -1).
const exitCodeInterrupted = 255

const (
	defaultChildrenMaxTimeout   = 30 * time.Second
	defaultHousekeepingInterval = 20 * time.Second
)

var (
	sigInterrupt = syscall.SIGINT
	sigKill      = syscall.SIGKILL
	sigHangup    = syscall.SIGHUP
)

// ForkManager is the supervisor. One instance owns the bucket registry and
// the child table; all mutation is serialized by its mutex, and signals are
// converted to events on a mailbox channel consumed by a single router, so
// bookkeeping never races with signal handling.
type ForkManager struct {
	role      Role
	parentPID int

	mu          sync.Mutex
	buckets     map[string]*Bucket
	bucketOrder []string
	children    map[int]*ChildRecord

	activeChildren int

	storeResult          bool
	childrenMaxTimeout   time.Duration
	housekeepingInterval time.Duration
	lastHousekeeping     time.Time

	logMu    sync.Mutex
	logFn    LogFunc
	logLevel Severity

	prefork       []PreforkFunc
	parentSighup  func()
	sighupCascade bool
	parentExit    ParentExitFunc
	helpers       map[string]HelperFunc

	exitRequested atomic.Bool
	sigCh         chan os.Signal

	stats *childStats

	// Child-role state.
	childChannel *ipc.Channel
	childBucket  string
	childIdent   string

	// exitFn is os.Exit, swappable in tests.
	exitFn func(int)
}

// New constructs a ForkManager, capturing the parent identity once. When the
// current process was spawned as a forkd child, the manager comes up in the
// child role: registrations still work, but dispatch APIs refuse and
// ProcessWork runs the child loop instead.
func New() *ForkManager {
	m := &ForkManager{
		buckets:              make(map[string]*Bucket),
		children:             make(map[int]*ChildRecord),
		helpers:              make(map[string]HelperFunc),
		childrenMaxTimeout:   defaultChildrenMaxTimeout,
		housekeepingInterval: defaultHousekeepingInterval,
		logLevel:             SeverityInfo,
		stats:                newChildStats(),
		exitFn:               os.Exit,
	}
	m.buckets[DefaultBucket] = &Bucket{
		name:            DefaultBucket,
		maxChildren:     defaultMaxChildren,
		maxWorkPerChild: defaultMaxWorkPerChild,
		childMaxRunTime: defaultChildMaxRunTime,
	}
	m.bucketOrder = []string{DefaultBucket}

	if IsChild() {
		m.role = RoleChild
		m.childBucket = os.Getenv(envBucket)
		m.childIdent = os.Getenv(envIdentifier)
		m.childChannel = ipc.FromFile(os.NewFile(channelFD, "forkd-channel"))
		m.parentPID = os.Getppid()
		return m
	}

	m.role = RoleParent
	m.parentPID = os.Getpid()
	m.installSignals()
	return m
}

// IsChild reports whether the current process was spawned as a forkd child.
func IsChild() bool {
	return os.Getenv(envChild) == "1"
}

// Role returns the process role captured at construction.
func (m *ForkManager) Role() Role {
	return m.role
}

// ParentPID returns the supervising process id captured at construction.
func (m *ForkManager) ParentPID() int {
	return m.parentPID
}

// ReceivedExitRequest reports whether an interrupt has been observed. The
// optional argument overrides the flag, mirroring the embedder-facing
// predicate of the source interface.
func (m *ForkManager) ReceivedExitRequest(set ...bool) bool {
	if len(set) > 0 {
		m.exitRequested.Store(set[0])
	}
	return m.exitRequested.Load()
}

// SetStoreResult toggles parent-side result storage for buckets without a
// results callback.
func (m *ForkManager) SetStoreResult(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeResult = on
}

// StoreResult reports whether results are stored for later retrieval.
func (m *ForkManager) StoreResult() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storeResult
}

// SetChildrenMaxTimeout bounds how long shutdown waits for children before
// force-killing them.
func (m *ForkManager) SetChildrenMaxTimeout(d time.Duration) {
	if d < 0 {
		m.logf(SeverityWarn, "children_max_timeout %s clamped to 0", d)
		d = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.childrenMaxTimeout = d
}

// SetHousekeepingCheckInterval sets the minimum spacing between housekeeping
// passes.
func (m *ForkManager) SetHousekeepingCheckInterval(d time.Duration) {
	if d < 0 {
		m.logf(SeverityWarn, "housekeeping_check_interval %s clamped to 0", d)
		d = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.housekeepingInterval = d
}

// RegisterLogging replaces the log sink. Events below severity are dropped.
func (m *ForkManager) RegisterLogging(fn LogFunc, severity Severity) bool {
	if fn == nil {
		return false
	}
	m.logMu.Lock()
	defer m.logMu.Unlock()
	m.logFn = fn
	m.logLevel = severity
	return true
}

func (m *ForkManager) logf(severity Severity, format string, args ...any) {
	m.logMu.Lock()
	fn := m.logFn
	level := m.logLevel
	m.logMu.Unlock()

	if severity < level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if fn != nil {
		fn(severity, msg)
		return
	}
	log.Printf("[forkd][%s] %s", severity, msg)
}

// installSignals wires the parent's process-control surface: hangup, child
// exit, interrupt and terminate are routed through the mailbox; the remaining
// fatal-or-noise signals are explicitly ignored.
func (m *ForkManager) installSignals() {
	signal.Ignore(
		syscall.SIGALRM,
		syscall.SIGUSR2,
		syscall.SIGBUS,
		syscall.SIGPIPE,
		syscall.SIGABRT,
		syscall.SIGFPE,
		syscall.SIGILL,
		syscall.SIGQUIT,
		syscall.SIGTRAP,
		syscall.SIGSYS,
	)

	m.sigCh = make(chan os.Signal, 16)
	signal.Notify(m.sigCh, syscall.SIGCHLD, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	go m.routeSignals()
}

// routeSignals is the single consumer of the signal mailbox. Converting
// signals to ordinary calls here is what lets the reaper and dispatcher share
// the table under one mutex instead of masking async delivery.
func (m *ForkManager) routeSignals() {
	for sig := range m.sigCh {
		switch sig {
		case syscall.SIGCHLD:
			m.Reap()
		case syscall.SIGHUP:
			m.handleHangup()
		case syscall.SIGINT, syscall.SIGTERM:
			m.Shutdown(sig)
		}
	}
}

// Close detaches the manager from process signals and stops the signal
// router goroutine. Bookkeeping is left untouched; children stay reapable
// through explicit Reap calls. Intended for embedders tearing down a manager
// they no longer drive.
func (m *ForkManager) Close() {
	if m.role != RoleParent || m.sigCh == nil {
		return
	}
	signal.Stop(m.sigCh)
	close(m.sigCh)
	m.sigCh = nil
}

// handleHangup runs the parent hangup callback and, with cascade enabled,
// forwards the hangup to every tracked live child.
func (m *ForkManager) handleHangup() {
	m.mu.Lock()
	fn := m.parentSighup
	cascade := m.sighupCascade
	var pids []int
	if cascade {
		for pid, rec := range m.children {
			if rec.Status != ChildStopped {
				pids = append(pids, pid)
			}
		}
	}
	m.mu.Unlock()

	if fn != nil {
		fn()
	}
	for _, pid := range pids {
		m.safeKill(pid, sigHangup)
	}
}
