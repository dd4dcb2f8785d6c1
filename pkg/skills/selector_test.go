package skills

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSkill(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestSelector_LoadAndSelect(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "git.md", "keywords: git, commit, branch\nUse conventional commit messages.")
	writeSkill(t, dir, "cooking.md", "keywords: recipe, cook\nAlways list ingredients first.")

	s, err := NewSelector(dir)
	require.NoError(t, err)
	defer s.Close()

	require.Len(t, s.Skills(), 2)

	text := s.SelectRelevantText("how do I write a git commit?")
	assert.Contains(t, text, "conventional commit messages")
	assert.NotContains(t, text, "ingredients")

	assert.Empty(t, s.SelectRelevantText("what is the weather?"))
}

func TestSelector_MatchingIsCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "git.md", "Keywords: GIT\nGit guidance.")

	s, err := NewSelector(dir)
	require.NoError(t, err)
	defer s.Close()

	assert.Contains(t, s.SelectRelevantText("Tell me about Git rebasing"), "Git guidance")
}

func TestSelector_MultipleMatchesJoined(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "a.md", "keywords: deploy\nSkill A.")
	writeSkill(t, dir, "b.md", "keywords: deploy\nSkill B.")

	s, err := NewSelector(dir)
	require.NoError(t, err)
	defer s.Close()

	text := s.SelectRelevantText("help me deploy")
	assert.Contains(t, text, "Skill A.")
	assert.Contains(t, text, "Skill B.")
}

func TestSelector_RecomputesPerCall(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "git.md", "keywords: git\nGit skill.")

	s, err := NewSelector(dir)
	require.NoError(t, err)
	defer s.Close()

	assert.NotEmpty(t, s.SelectRelevantText("git question"))
	// A later unrelated input must not inherit the previous selection
	assert.Empty(t, s.SelectRelevantText("unrelated question"))
}

func TestSelector_MissingDirIsEmpty(t *testing.T) {
	s, err := NewSelector(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	defer s.Close()

	assert.Empty(t, s.Skills())
	assert.Empty(t, s.SelectRelevantText("anything"))
}

func TestSelector_SkillWithoutKeywordsNeverSelected(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "orphan.md", "Just text, no keyword line.")

	s, err := NewSelector(dir)
	require.NoError(t, err)
	defer s.Close()

	require.Len(t, s.Skills(), 1)
	assert.Empty(t, s.SelectRelevantText("just text"))
}

func TestSelector_NonMarkdownIgnored(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "note.txt", "keywords: note\nShould be ignored.")
	writeSkill(t, dir, "real.md", "keywords: note\nCounts.")

	s, err := NewSelector(dir)
	require.NoError(t, err)
	defer s.Close()

	require.Len(t, s.Skills(), 1)
	assert.Equal(t, "real", s.Skills()[0].Name)
}

func TestParseSkill(t *testing.T) {
	skill := parseSkill("demo", "# Title\nkeywords: one, Two , three\nBody line.\n")

	assert.Equal(t, "demo", skill.Name)
	assert.Equal(t, []string{"one", "two", "three"}, skill.Keywords)
	assert.Contains(t, skill.Text, "# Title")
	assert.Contains(t, skill.Text, "Body line.")
	assert.NotContains(t, skill.Text, "keywords:")
}

func TestSelector_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "git.md", "keywords: git\nOld text.")

	s, err := NewSelector(dir)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Watch())

	writeSkill(t, dir, "git.md", "keywords: git\nNew text.")

	require.Eventually(t, func() bool {
		text := s.SelectRelevantText("git")
		return text == "New text."
	}, 5*time.Second, 50*time.Millisecond)
}
