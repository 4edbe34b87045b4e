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
)

// ChildStats aggregates child lifetimes for one bucket, measured from spawn
// to reap.
type ChildStats struct {
	Count       uint64
	TotalTime   time.Duration
	MinTime     time.Duration
	MaxTime     time.Duration
	AverageTime time.Duration
}

type childStats struct {
	mu        sync.RWMutex
	perBucket map[string]*ChildStats
}

func newChildStats() *childStats {
	return &childStats{
		perBucket: make(map[string]*ChildStats),
	}
}

func (s *childStats) record(bucket string, lifetime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, ok := s.perBucket[bucket]
	if !ok {
		stats = &ChildStats{
			MinTime: lifetime,
		}
		s.perBucket[bucket] = stats
	}

	stats.Count++
	stats.TotalTime += lifetime
	if lifetime < stats.MinTime {
		stats.MinTime = lifetime
	}
	if lifetime > stats.MaxTime {
		stats.MaxTime = lifetime
	}
	stats.AverageTime = stats.TotalTime / time.Duration(stats.Count)
}

func (s *childStats) summary() map[string]ChildStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := make(map[string]ChildStats)
	for k, v := range s.perBucket {
		summary[k] = *v
	}
	return summary
}

// Stats returns the reap-time statistics for one bucket.
func (m *ForkManager) Stats(bucket string) ChildStats {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return m.stats.summary()[bucket]
}

// StatsSummary returns the reap-time statistics for every bucket.
func (m *ForkManager) StatsSummary() map[string]ChildStats {
	return m.stats.summary()
}
