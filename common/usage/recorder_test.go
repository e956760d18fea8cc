// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package usage

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestRecordRequest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO quorum_usage_events").
		WithArgs("req-1", "premium", "ok", nil, false, true, 0.82, 0.75, 3, int64(420)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	r := NewPostgresRecorder(db)
	err = r.RecordRequest(RequestEvent{
		RequestID:     "req-1",
		Tier:          "premium",
		Status:        "ok",
		Escalated:     true,
		Confidence:    0.82,
		Agreement:     0.75,
		ProviderCount: 3,
		LatencyMs:     420,
	})
	if err != nil {
		t.Errorf("RecordRequest() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRecordRequestWithSession(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO quorum_usage_events").
		WithArgs("req-2", "basic", "ok", sqlmock.AnyArg(), false, false, 0.9, 1.0, 2, int64(120)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	r := NewPostgresRecorder(db)
	err = r.RecordRequest(RequestEvent{
		RequestID:     "req-2",
		Tier:          "basic",
		Status:        "ok",
		SessionID:     "sess-9",
		Confidence:    0.9,
		Agreement:     1.0,
		ProviderCount: 2,
		LatencyMs:     120,
	})
	if err != nil {
		t.Errorf("RecordRequest() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRecordInvocation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO quorum_usage_events").
		WithArgs("req-1", "claude-api", "partner", "success", 512, 2, int64(310)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	r := NewPostgresRecorder(db)
	err = r.RecordInvocation(InvocationEvent{
		RequestID:  "req-1",
		ProviderID: "claude-api",
		TrustClass: "partner",
		Outcome:    "success",
		TokensUsed: 512,
		CostCents:  2,
		LatencyMs:  310,
	})
	if err != nil {
		t.Errorf("RecordInvocation() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRecordInvocationDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO quorum_usage_events").
		WillReturnError(sqlmock.ErrCancelled)

	r := NewPostgresRecorder(db)
	if err := r.RecordInvocation(InvocationEvent{RequestID: "req-1"}); err == nil {
		t.Error("RecordInvocation() should surface the database error")
	}
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	if err := r.RecordRequest(RequestEvent{}); err != nil {
		t.Errorf("RecordRequest() error: %v", err)
	}
	if err := r.RecordInvocation(InvocationEvent{}); err != nil {
		t.Errorf("RecordInvocation() error: %v", err)
	}
}

func TestNullString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		isNil bool
	}{
		{"Empty string returns nil", "", true},
		{"Non-empty string returns pointer", "test", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := nullString(tt.input)
			if tt.isNil && result != nil {
				t.Errorf("nullString(%q) should return nil", tt.input)
			}
			if !tt.isNil && (result == nil || *result != tt.input) {
				t.Errorf("nullString(%q) = %v, want pointer to input", tt.input, result)
			}
		})
	}
}

func TestUSDToCents(t *testing.T) {
	tests := []struct {
		usd   float64
		cents int
	}{
		{0, 0},
		{0.004, 0},
		{0.01, 1},
		{1.35, 135},
		{12.999, 1300},
	}

	for _, tt := range tests {
		if got := USDToCents(tt.usd); got != tt.cents {
			t.Errorf("USDToCents(%v) = %d, want %d", tt.usd, got, tt.cents)
		}
	}
}

func TestFormatCents(t *testing.T) {
	if got := FormatCents(135); got != "$1.35" {
		t.Errorf("FormatCents(135) = %q, want $1.35", got)
	}
	if got := FormatCents(0); got != "$0.00" {
		t.Errorf("FormatCents(0) = %q, want $0.00", got)
	}
}
