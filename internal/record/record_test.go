package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSkipsEmptyTurns(t *testing.T) {
	turns := []Turn{
		{Role: RoleAssistant, Content: "Hi, how was your day?"},
		{Role: RoleUser, Content: "   "},
		{Role: RoleUser, Content: "Long, but good."},
	}

	got := Format(turns, "User", "Agent")
	assert.Equal(t, "Agent: Hi, how was your day?\nUser: Long, but good.", got)
	assert.Len(t, NonEmpty(turns), 2)
}

func TestLevelFor(t *testing.T) {
	cases := map[int]string{
		8:  LevelNeedsImprovement,
		19: LevelNeedsImprovement,
		20: LevelDeveloping,
		27: LevelDeveloping,
		28: LevelCompetent,
		34: LevelCompetent,
		35: LevelStrong,
		40: LevelStrong,
	}
	for score, want := range cases {
		assert.Equal(t, want, LevelFor(score, 8), "score %d", score)
	}
}

func TestLevelForScalesWithCriteria(t *testing.T) {
	cases := []struct {
		score, criteria int
		want            string
	}{
		{20, 4, LevelStrong},
		{18, 4, LevelStrong},
		{17, 4, LevelCompetent},
		{14, 4, LevelCompetent},
		{13, 4, LevelDeveloping},
		{10, 4, LevelDeveloping},
		{9, 4, LevelNeedsImprovement},
		{44, 10, LevelStrong},
		{43, 10, LevelCompetent},
		{25, 10, LevelDeveloping},
		{24, 10, LevelNeedsImprovement},
		{5, 0, LevelNeedsImprovement},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, LevelFor(tc.score, tc.criteria), "score %d of %d criteria", tc.score, tc.criteria)
	}
}

func TestFallbacksSerializeWithEmptyLists(t *testing.T) {
	data, err := json.Marshal(JournalFallback())
	require.NoError(t, err)
	assert.JSONEq(t, `{"mood":"Session completed","tone":"Unable to process","topics":["Session recorded"],"decisions":[]}`, string(data))

	data, err = json.Marshal(ScorecardFallback())
	require.NoError(t, err)
	assert.JSONEq(t, `{"criteria":[],"overall_score":0,"overall_level":"Error","top_strength":"Evaluation could not be completed","top_improvements":[]}`, string(data))
}

func TestDecode(t *testing.T) {
	rec, err := Decode(KindJournal, []byte(`{"mood":"calm","tone":"reflective","topics":["work"],"decisions":["rest"]}`))
	require.NoError(t, err)
	j, ok := rec.(Journal)
	require.True(t, ok)
	assert.Equal(t, "calm", j.Mood)

	_, err = Decode("memo", []byte(`{}`))
	assert.Error(t, err)
}
