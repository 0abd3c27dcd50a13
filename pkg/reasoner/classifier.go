// Copyright 2025 Kadir Pekel
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

package reasoner

import "strings"

// QuestionClass categorizes a question by the reasoning it needs.
type QuestionClass string

const (
	ClassSimple     QuestionClass = "simple"
	ClassMultiPart  QuestionClass = "multi_part"
	ClassCausal     QuestionClass = "causal"
	ClassComparison QuestionClass = "comparison"
)

var interrogatives = []string{"what", "who", "when", "where", "why", "how", "which"}

// Classify categorizes a question from surface features alone. It errs
// toward simple: only clearly structured questions trigger decomposition.
func Classify(question string) QuestionClass {
	q := strings.ToLower(question)

	for _, marker := range []string{"compare", " versus ", " vs ", " vs. ", "difference between", "similarities between"} {
		if strings.Contains(q, marker) {
			return ClassComparison
		}
	}

	for _, marker := range []string{"why ", "why?", "what causes", "what caused", "reason for", "effect of", "impact of", "lead to", "leads to"} {
		if strings.Contains(q, marker) {
			return ClassCausal
		}
	}

	if countInterrogatives(q) > 1 && strings.Contains(q, " and ") {
		return ClassMultiPart
	}
	if strings.Count(q, "?") > 1 {
		return ClassMultiPart
	}

	return ClassSimple
}

func countInterrogatives(q string) int {
	count := 0
	for _, word := range strings.FieldsFunc(q, func(r rune) bool {
		return r == ' ' || r == ',' || r == '?' || r == ';'
	}) {
		for _, iw := range interrogatives {
			if word == iw {
				count++
				break
			}
		}
	}
	return count
}
