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
	"os/signal"
	"reflect"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// TestMain doubles as the child program: a worker spawned by an integration
// test re-executes the test binary, and this branch runs the work order
// before the testing framework ever parses a flag.
func TestMain(m *testing.M) {
	if IsChild() {
		runSpawnedChild()
		return
	}
	os.Exit(m.Run())
}

func runSpawnedChild() {
	mgr := New()
	bucket := os.Getenv(envBucket)

	switch os.Getenv("FORKD_TEST_PROGRAM") {
	case "echo":
		mgr.RegisterChildRun(func(items []any, ident string) any {
			return map[string]any{"items": items, "ident": ident}
		}, bucket)
	case "persist":
		mgr.RegisterChildRun(func(items []any, ident string) any {
			return items[0]
		}, bucket)
	case "sleep":
		mgr.RegisterChildRun(func(items []any, ident string) any {
			time.Sleep(30 * time.Second)
			return nil
		}, bucket)
	case "stubborn":
		mgr.RegisterChildRun(func(items []any, ident string) any {
			signal.Ignore(syscall.SIGINT, syscall.SIGTERM)
			time.Sleep(60 * time.Second)
			return nil
		}, bucket)
	}

	mgr.RegisterHelper("ticker", func(args []any) {
		time.Sleep(60 * time.Second)
	})

	mgr.ProcessWork(true, bucket, false)
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBlockingDispatchScenario(t *testing.T) {
	t.Setenv("FORKD_TEST_PROGRAM", "echo")

	m := newTestManager(t)
	// One child at a time keeps fork order deterministic for the batch check.
	m.SetMaxChildren(1, DefaultBucket)
	m.SetMaxWorkPerChild(3, DefaultBucket)
	m.SetStoreResult(true)
	m.SetHousekeepingCheckInterval(time.Second)

	var exitCalls int32
	m.RegisterParentExit(func(pid int, sig os.Signal) {
		if sig != nil {
			t.Errorf("blocking drain passed signal %v to parent-exit", sig)
		}
		if pid != m.ParentPID() {
			t.Errorf("parent-exit pid = %d, want %d", pid, m.ParentPID())
		}
		atomic.AddInt32(&exitCalls, 1)
	})

	if err := m.AddWork([]any{"1", "2", "3", "4", "5", "6", "7"}, "", DefaultBucket, false); err != nil {
		t.Fatalf("AddWork: %v", err)
	}
	if err := m.ProcessWork(true, DefaultBucket, false); err != nil {
		t.Fatalf("ProcessWork: %v", err)
	}

	if got := atomic.LoadInt32(&exitCalls); got != 1 {
		t.Fatalf("parent-exit fired %d times, want 1", got)
	}
	if got := m.WorkSetsCount(DefaultBucket, false); got != 0 {
		t.Fatalf("queue depth = %d after drain", got)
	}
	if got := m.CountActive(""); got != 0 {
		t.Fatalf("active children = %d after drain", got)
	}

	var results []any
	waitFor(t, 5*time.Second, "all result frames", func() bool {
		results = append(results, m.GetAllResults(DefaultBucket)...)
		return len(results) == 3
	})

	var batches [][]any
	for _, r := range results {
		batches = append(batches, r.(map[string]any)["items"].([]any))
	}
	want := [][]any{{"1", "2", "3"}, {"4", "5", "6"}, {"7"}}
	if !reflect.DeepEqual(batches, want) {
		t.Fatalf("batches = %v, want %v", batches, want)
	}
}

func TestSingleItemIdentifierScenario(t *testing.T) {
	t.Setenv("FORKD_TEST_PROGRAM", "echo")

	m := newTestManager(t)
	m.SetMaxChildren(2, "jobs")
	m.SetChildSingleWorkItem(true, "jobs")
	m.SetStoreResult(true)
	m.SetHousekeepingCheckInterval(time.Second)

	m.AddWork([]any{"work-A"}, "A", "jobs", false)
	m.AddWork([]any{"work-B"}, "B", "jobs", false)
	if err := m.ProcessWork(true, "jobs", false); err != nil {
		t.Fatalf("ProcessWork: %v", err)
	}

	var results []any
	waitFor(t, 5*time.Second, "both results", func() bool {
		results = append(results, m.GetAllResults("jobs")...)
		return len(results) == 2
	})

	got := map[string]string{}
	for _, r := range results {
		res := r.(map[string]any)
		got[res["ident"].(string)] = res["items"].([]any)[0].(string)
	}
	want := map[string]string{"A": "work-A", "B": "work-B"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("identifier round-trip = %v, want %v", got, want)
	}
}

func TestPersistentBucketScenario(t *testing.T) {
	t.Setenv("FORKD_TEST_PROGRAM", "persist")

	m := newTestManager(t)
	m.SetMaxChildren(2, "p")
	m.SetChildPersistentMode(true, "p")
	m.SetChildPersistentModeData(map[string]any{"cfg": 1}, "p")
	m.SetStoreResult(true)

	if err := m.ProcessWork(false, "p", false); err != nil {
		t.Fatalf("ProcessWork: %v", err)
	}

	var results []any
	waitFor(t, 5*time.Second, "persistent payload results", func() bool {
		results = append(results, m.GetAllResults("p")...)
		return len(results) == 2
	})
	for _, r := range results {
		payload, ok := r.(map[string]any)
		if !ok || payload["cfg"] != float64(1) {
			t.Fatalf("persistent payload = %#v", r)
		}
	}

	waitFor(t, 5*time.Second, "workers reaped", func() bool {
		m.Reap()
		return m.CountActive("p") == 0
	})
}

func TestPersistentMaxChildrenDropScenario(t *testing.T) {
	t.Setenv("FORKD_TEST_PROGRAM", "sleep")

	m := newTestManager(t)
	m.SetMaxChildren(3, "pool")
	m.SetChildPersistentMode(true, "pool")
	m.SetChildPersistentModeData(map[string]any{"cfg": 1}, "pool")

	if err := m.ProcessWork(false, "pool", false); err != nil {
		t.Fatalf("ProcessWork: %v", err)
	}
	waitFor(t, 5*time.Second, "three persistent workers", func() bool {
		return m.CountActive("pool") == 3
	})

	before := m.WorkRunning("pool")
	if len(before) != 3 {
		t.Fatalf("WorkRunning = %v, want 3 workers", before)
	}
	// Let the children finish installing their signal handling before the
	// surplus interrupt goes out.
	time.Sleep(500 * time.Millisecond)

	m.SetMaxChildren(1, "pool")

	waitFor(t, 5*time.Second, "surplus workers to exit", func() bool {
		m.Reap()
		return m.CountActive("pool") == 1
	})

	after := m.WorkRunning("pool")
	if len(after) != 1 {
		t.Fatalf("WorkRunning after drop = %v, want 1 worker", after)
	}
	survived := 0
	for pid := range after {
		if _, ok := before[pid]; ok {
			survived++
		}
	}
	if survived != 1 {
		t.Fatalf("survivor %v is not one of the original workers %v", after, before)
	}

	for pid := range after {
		m.KillChildPid([]int{pid}, 2*time.Second)
	}
	waitFor(t, 5*time.Second, "pool empty", func() bool {
		m.Reap()
		return m.CountActive("pool") == 0
	})
}

func TestHelperRespawnScenario(t *testing.T) {
	m := newTestManager(t)
	m.RegisterHelper("ticker", func(args []any) {
		time.Sleep(60 * time.Second)
	})

	pid, err := m.HelperProcessSpawn("ticker", []any{"x"}, "tick", true)
	if err != nil {
		t.Fatalf("HelperProcessSpawn: %v", err)
	}

	helperPID := func() int {
		m.mu.Lock()
		defer m.mu.Unlock()
		for p, rec := range m.children {
			if rec.Identifier == "tick" && rec.Status == ChildHelper {
				return p
			}
		}
		return 0
	}
	waitFor(t, 2*time.Second, "helper to start", func() bool { return helperPID() == pid })

	if err := unix.Kill(pid, unix.SIGKILL); err != nil {
		t.Fatalf("kill helper: %v", err)
	}

	var respawned int
	waitFor(t, 5*time.Second, "helper respawn", func() bool {
		respawned = helperPID()
		return respawned != 0 && respawned != pid
	})

	// Stop the replacement for real: clear the flag first so the reaper does
	// not bring it straight back.
	m.mu.Lock()
	if rec, ok := m.children[respawned]; ok {
		rec.Respawn = false
	}
	m.mu.Unlock()
	m.KillChildPid([]int{respawned}, 2*time.Second)

	waitFor(t, 5*time.Second, "helper gone", func() bool {
		m.Reap()
		return helperPID() == 0
	})
}

func TestTimeoutKillScenario(t *testing.T) {
	t.Setenv("FORKD_TEST_PROGRAM", "sleep")

	m := newTestManager(t)
	m.SetMaxChildren(1, "slow")
	m.SetChildMaxRunTime(1, "slow")
	m.SetHousekeepingCheckInterval(time.Second)

	var timeouts int32
	m.RegisterChildTimeout(func(pid int, ident string) {
		atomic.AddInt32(&timeouts, 1)
	}, "slow")

	m.AddWork([]any{"job"}, "", "slow", false)
	start := time.Now()
	if err := m.ProcessWork(true, "slow", false); err != nil {
		t.Fatalf("ProcessWork: %v", err)
	}

	if elapsed := time.Since(start); elapsed > 15*time.Second {
		t.Fatalf("drain took %s, child was not killed", elapsed)
	}
	if got := atomic.LoadInt32(&timeouts); got != 1 {
		t.Fatalf("timeout callback fired %d times, want 1", got)
	}
	if got := m.CountActive(""); got != 0 {
		t.Fatalf("active children = %d", got)
	}
}

func TestGracefulShutdownScenario(t *testing.T) {
	t.Setenv("FORKD_TEST_PROGRAM", "stubborn")

	m := newTestManager(t)
	m.SetMaxChildren(2, "stuck")
	// One item per child, so the two queued items become two workers.
	m.SetMaxWorkPerChild(1, "stuck")
	m.SetChildrenMaxTimeout(2 * time.Second)

	var exitSig os.Signal
	var exitCode atomic.Int32
	exitCode.Store(-1)
	m.exitFn = func(code int) { exitCode.Store(int32(code)) }
	m.RegisterParentExit(func(pid int, sig os.Signal) { exitSig = sig })

	m.AddWork([]any{"a", "b"}, "", "stuck", false)
	if err := m.ProcessWork(false, "stuck", false); err != nil {
		t.Fatalf("ProcessWork: %v", err)
	}
	waitFor(t, 2*time.Second, "both workers up", func() bool {
		return m.CountActive("stuck") == 2
	})
	// Give the children a moment to install their signal dispositions.
	time.Sleep(500 * time.Millisecond)

	m.Shutdown(syscall.SIGINT)

	if got := exitCode.Load(); got != exitCodeInterrupted {
		t.Fatalf("exit code = %d, want %d", got, exitCodeInterrupted)
	}
	if exitSig != syscall.SIGINT {
		t.Fatalf("parent-exit signal = %v, want SIGINT", exitSig)
	}
	if got := m.CountActive(""); got != 0 {
		t.Fatalf("active children = %d after shutdown deadline", got)
	}
	if !m.ReceivedExitRequest() {
		t.Fatal("exit request flag not set")
	}
}

func TestSafeKillRefusesForeignPids(t *testing.T) {
	m := newTestManager(t)

	if m.safeKill(1, syscall.SIGHUP) {
		t.Fatal("signalled a pid that is not in the child table")
	}

	// Even a tracked pid is refused when the OS says it is not our child.
	fabricateChild(m, 1, "x", ChildWorker)
	if m.safeKill(1, syscall.SIGHUP) {
		t.Fatal("signalled a pid whose OS parent is not this process")
	}
}
