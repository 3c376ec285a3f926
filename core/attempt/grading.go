package attempt

import (
	"sort"
	"time"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/exam"
)

// grade scores a submission against the exam's answer key. It is pure and
// deterministic: same questions + same answers always yield the same records,
// regardless of answer order.
//
// Answers referencing unknown question identifiers are ignored; duplicate
// answers to the same question keep the first occurrence. Essay answers are
// recorded ungraded (zero score, not correct) pending manual review.
func grade(questions []exam.Question, answers []Answer, now time.Time) (records []AnswerRecord, score, correct int) {
	byID := make(map[string]exam.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	seen := make(map[string]bool, len(answers))
	records = make([]AnswerRecord, 0, len(answers))
	for _, ans := range answers {
		q, ok := byID[ans.QuestionID]
		if !ok || seen[ans.QuestionID] {
			continue
		}
		seen[ans.QuestionID] = true

		rec := AnswerRecord{
			QuestionID: q.ID,
			Answer:     ans.Values,
			CreatedAt:  now,
		}
		if answerMatches(q, ans.Values) {
			rec.Correct = true
			rec.Score = q.Score
			score += q.Score
			correct++
		}
		records = append(records, rec)
	}
	return records, score, correct
}

// answerMatches applies type-specific equality: exact string match for
// single_choice/true_false/fill_blank, set equality for multiple_choice.
// Essays never auto-match.
func answerMatches(q exam.Question, values []string) bool {
	switch q.Type {
	case exam.QuestionSingleChoice, exam.QuestionTrueFalse, exam.QuestionFillBlank:
		if len(values) != 1 || len(q.Correct) != 1 {
			return false
		}
		return core.CleanString(values[0]) == core.CleanString(q.Correct[0])
	case exam.QuestionMultipleChoice:
		return setsEqual(values, q.Correct)
	}
	return false
}

// setsEqual compares two answer sets, order-independent.
func setsEqual(a, b []string) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	as := cleanSorted(a)
	bs := cleanSorted(b)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func cleanSorted(vals []string) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = core.CleanString(v)
	}
	sort.Strings(out)
	return out
}
