package retrieval

import (
	"regexp"
	"strings"

	"github.com/poiesic/medrag/core"
)

var (
	frequencyPattern = regexp.MustCompile(`\b(most\s+(frequent\w*|common\w*|prescribed|often|used)|how\s+often|frequency)\b`)
	treatmentPattern = regexp.MustCompile(`\b(treatments?|drugs?|medications?|medicines?|prescri\w*|therap\w*)\b`)
	patientsPattern  = regexp.MustCompile(`\b(which|list|show|find|all|name)\b.*\bpatients?\b.*\b(diagnos\w*|had|have|has|with|suffer\w*)\b`)
	whoPattern       = regexp.MustCompile(`^\s*who\b.*\b(had|has|have|diagnos\w*|suffer\w*)\b`)
)

// Classify assigns a query class from the question text.
// Frequency questions are checked first, so "which drug was prescribed most
// often to patients with dengue" counts treatments.
func Classify(text string) core.QueryClass {
	lower := strings.ToLower(text)
	if frequencyPattern.MatchString(lower) && treatmentPattern.MatchString(lower) {
		return core.TreatmentFrequency
	}
	if patientsPattern.MatchString(lower) || whoPattern.MatchString(lower) {
		return core.DiagnosisLookup
	}
	return core.FreeFormQA
}
