package reconcile

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruiyi-1/KPP-Test/internal/question"
)

func record(partition string, ordinal int, text string, optTexts ...string) question.Record {
	rec := question.Record{
		ID:        question.RecordID(partition, ordinal),
		Partition: partition,
		Ordinal:   ordinal,
		Text:      text,
	}
	for i, t := range optTexts {
		rec.Options = append(rec.Options, question.Option{Label: question.Labels[i], Text: t})
	}
	return rec
}

func TestDigestIgnoresCaseAndPunctuation(t *testing.T) {
	a := record("A", 1, "What does a red light mean?", "Stop", "Go")
	b := record("B", 7, "what does a RED light mean", "stop.", "go!")
	assert.Equal(t, Digest(a), Digest(b))

	c := record("B", 7, "what does a RED light mean", "stop.", "slow down")
	assert.NotEqual(t, Digest(a), Digest(c))
}

func TestDigestIgnoresImagesAndAnswer(t *testing.T) {
	a := record("A", 1, "Identify the sign", "Stop", "Yield")
	b := a
	answer := "A"
	b.CorrectAnswer = &answer
	b.Images = []string{"part-a-question-001-q-image-01.png"}
	assert.Equal(t, Digest(a), Digest(b))
}

func TestMergeDedupsAndAssignsDenseIDs(t *testing.T) {
	records := []question.Record{
		record("B", 1, "Question two", "Yes", "No"),
		record("A", 2, "Question one", "Stop", "Go"),    // duplicate of A-1 below
		record("A", 1, "Question one?", "Stop.", "Go!"), // first in sort order, survives
		record("C", 3, "Question three", "Left", "Right"),
	}

	ds, remap := Merge(records, zerolog.Nop())

	require.Equal(t, 3, ds.Total)
	require.Len(t, ds.Questions, 3)
	assert.Equal(t, "question-001", ds.Questions[0].ID)
	assert.Equal(t, "Question one?", ds.Questions[0].Text)
	assert.Equal(t, "question-002", ds.Questions[1].ID)
	assert.Equal(t, "Question two", ds.Questions[1].Text)
	assert.Equal(t, "question-003", ds.Questions[2].ID)

	assert.Equal(t, "question-001", remap[question.RecordID("A", 1)])
	assert.Equal(t, "question-002", remap[question.RecordID("B", 1)])
	assert.Equal(t, "question-003", remap[question.RecordID("C", 3)])
	_, dropped := remap[question.RecordID("A", 2)]
	assert.False(t, dropped, "duplicates get no remap entry")

	// source records keep their capture ids
	assert.Equal(t, question.RecordID("A", 1), records[2].ID)
}

func TestMergeOrdersAcrossSources(t *testing.T) {
	web := record("A", 3, "Web question", "One", "Two")
	web.ID = "section-a-set-1-q3"
	records := []question.Record{
		web,
		record("A", 1, "App question", "One", "Two"),
	}

	ds, remap := Merge(records, zerolog.Nop())
	require.Equal(t, 2, ds.Total)
	assert.Equal(t, "App question", ds.Questions[0].Text)
	assert.Equal(t, "Web question", ds.Questions[1].Text)
	assert.Equal(t, "question-002", remap["section-a-set-1-q3"])
}

func TestMergeEmptyInput(t *testing.T) {
	ds, remap := Merge(nil, zerolog.Nop())
	assert.Zero(t, ds.Total)
	assert.Empty(t, ds.Questions)
	assert.Empty(t, remap)
}

func TestRekeyTranslations(t *testing.T) {
	tr := question.Translations{Questions: map[string]question.Translation{
		"part-a-question-001": {Question: "红灯是什么意思？"},
		"part-a-question-002": {Question: "被合并掉的重复题"},
		"part-x-question-099": {Question: "没有对应记录"},
	}}
	remap := IDRemap{"part-a-question-001": "question-001"}

	out := RekeyTranslations(tr, remap)
	require.Len(t, out.Questions, 1)
	assert.Equal(t, "红灯是什么意思？", out.Questions["question-001"].Question)
}
