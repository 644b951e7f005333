// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package search retrieves indexed chunks for a text query.
//
// The vector index may hold entries of documents that are still being
// processed, that failed, or whose canonical owner was deleted. The ledger
// decides what is visible: a hit is returned only when its document, or
// another document that contributed the same text, is Completed.
//
// Ranking is inner-product similarity with a boost for chunks that contain
// every non stop word of the query verbatim.
package search
