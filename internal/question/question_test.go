package question

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strptr(s string) *string { return &s }

func validRecord() Record {
	return Record{
		ID:        RecordID("A", 3),
		Partition: "A",
		Ordinal:   3,
		Text:      "What does a red light mean?",
		Options: []Option{
			{Label: "A", Text: "Stop"},
			{Label: "B", Text: "Go"},
		},
		CorrectAnswer: strptr("A"),
	}
}

func TestIdentifiers(t *testing.T) {
	assert.Equal(t, "part-a-question-003", RecordID("A", 3))
	assert.Equal(t, "part-b-question-120", RecordID("b", 120))
	assert.Equal(t, "question-007", CanonicalID(7))
	assert.Equal(t, "part-a-question-003-q-image-01.png", ImageName("A", 3, QuestionImage, 1))
	assert.Equal(t, "part-a-question-003-opt-image-02.png", ImageName("A", 3, OptionImage, 2))
}

func TestValidateAcceptsCompleteRecord(t *testing.T) {
	assert.NoError(t, validRecord().Validate())
}

func TestValidateNilAnswerAllowed(t *testing.T) {
	r := validRecord()
	r.CorrectAnswer = nil
	assert.NoError(t, r.Validate())
	assert.True(t, r.AnswerValid())
}

func TestValidateRejectsBrokenRecords(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Record)
	}{
		{"missing id", func(r *Record) { r.ID = "" }},
		{"missing partition", func(r *Record) { r.Partition = "" }},
		{"blank text", func(r *Record) { r.Text = "   " }},
		{"single option", func(r *Record) { r.Options = r.Options[:1] }},
		{"duplicate labels", func(r *Record) { r.Options[1].Label = "A" }},
		{"unlabeled option", func(r *Record) { r.Options[0].Label = " " }},
		{"answer outside glyphs", func(r *Record) { r.CorrectAnswer = strptr("E") }},
		{"answer not among options", func(r *Record) { r.CorrectAnswer = strptr("C") }},
		{"image option without path", func(r *Record) { r.Options[0].HasImage = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := validRecord()
			tc.mutate(&r)
			assert.Error(t, r.Validate())
		})
	}
}

func TestAnswerValidIsCaseInsensitive(t *testing.T) {
	r := validRecord()
	r.CorrectAnswer = strptr("a")
	assert.True(t, r.AnswerValid())
}

func TestTranslationEmpty(t *testing.T) {
	assert.True(t, Translation{}.Empty())
	assert.False(t, Translation{Question: "红灯"}.Empty())
	assert.False(t, Translation{Options: map[string]string{"A": "停"}}.Empty())
}
