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

// postResults drains arrived result frames for the bucket's children into the
// registered results callback, or into the stored result queue when storage
// is enabled. Records that are stopped, reaped, and fully drained are removed
// from the table here.
func (m *ForkManager) postResults(bucket string) {
	m.mu.Lock()
	b := m.bucketLocked(bucket)
	resultCb := b.callbacks.parentResults
	store := m.storeResult

	var drained []any
	for pid, rec := range m.children {
		if rec.Bucket != bucket {
			continue
		}
		drained = append(drained, rec.takeFrames()...)
		if rec.Status == ChildStopped && rec.isDrained() && !rec.buffered() {
			delete(m.children, pid)
		}
	}
	if resultCb == nil && store {
		b.results = append(b.results, drained...)
		drained = nil
	}
	m.mu.Unlock()

	if resultCb != nil {
		for _, v := range drained {
			resultCb(v)
		}
	}
	// With neither a callback nor storage enabled, drained values are
	// discarded.
}

// HasResult reports whether a stored result is waiting on the bucket.
func (m *ForkManager) HasResult(bucket string) bool {
	m.postResults(bucket)
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bucketLocked(bucket).results) > 0
}

// GetResult pops the oldest stored result from the bucket.
func (m *ForkManager) GetResult(bucket string) (any, bool) {
	m.postResults(bucket)
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bucketLocked(bucket)
	if len(b.results) == 0 {
		return nil, false
	}
	v := b.results[0]
	b.results = b.results[1:]
	return v, true
}

// GetAllResults removes and returns every stored result on the bucket in
// arrival order.
func (m *ForkManager) GetAllResults(bucket string) []any {
	m.postResults(bucket)
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bucketLocked(bucket)
	out := b.results
	b.results = nil
	return out
}
