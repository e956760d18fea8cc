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

// Package main is the entry point for the Quorum orchestrator service.
//
// The orchestrator fans a request out to multiple answer-generating
// backends, scores their agreement, and returns one integrated response
// with a confidence score.
//
// Usage:
//
//	./orchestrator -config /etc/quorum/config.yaml
//
// Environment variables referenced in the config file (${VAR} syntax)
// are expanded at load time.
package main

import (
	"flag"
	"fmt"
	"os"

	"quorum/platform/orchestrator"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	if err := orchestrator.Run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: %v\n", err)
		os.Exit(1)
	}
}
