package library

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colmturner/sonos-fleet-go/internal/db"
)

const testPrefix = "x-file-cifs://nas/music"

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	pair, err := db.InitMemory()
	require.NoError(t, err)
	t.Cleanup(func() { pair.Close() })
	return NewRepository(pair, testPrefix, 3)
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestClassifyURL(t *testing.T) {
	cases := map[string]MediaKind{
		"x-rincon-queue:RINCON_AAA#0":          KindQueue,
		"x-rincon:RINCON_AAA":                  KindFollow,
		"x-rincon-mp3radio://radio.example/s1": KindRadio,
		"x-sonos-htastream:RINCON_AAA:spdif":   KindTV,
		testPrefix + "/beatles/abbey/01.flac":  KindTrack,
		"x-sonosapi-stream:s12345?sid=254":     KindSonos,
		"https://stream.example/live":          KindWeb,
		"weird:thing":                          KindOther,
		"":                                     KindOther,
	}
	for url, want := range cases {
		require.Equal(t, want, ClassifyURL(url, testPrefix), "url %q", url)
	}
}

func TestLocateCreatesUnknownURLOnce(t *testing.T) {
	repo := newTestRepo(t)

	first, err := repo.Locate("https://stream.example/live")
	require.NoError(t, err)
	require.Equal(t, KindWeb, first.Kind)
	require.NotZero(t, first.ID)

	second, err := repo.Locate("https://stream.example/live")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestScanAndSearch(t *testing.T) {
	repo := newTestRepo(t)

	root := t.TempDir()
	albumDir := filepath.Join(root, "beatles", "abbey-road")
	require.NoError(t, os.MkdirAll(albumDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(albumDir, "01 Come Together.flac"), []byte("not really flac"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(albumDir, "02 Something.flac"), []byte("also not flac"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(albumDir, "metadata.json"), []byte(`{
		"title": "Abbey Road",
		"artist": "The Beatles",
		"genre": "Rock",
		"year": 1969
	}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(albumDir, "cover.jpg"), []byte("jpegbytes"), 0o644))

	scanner := NewScanner(repo, root, testPrefix, testLogger())
	require.NoError(t, scanner.Scan())

	albums, err := repo.Search("abbey beatles")
	require.NoError(t, err)
	require.Len(t, albums, 1)
	album := albums[0]
	require.Equal(t, "Abbey Road", album.Title)
	require.Equal(t, "The Beatles", album.Artist)
	require.Len(t, album.Tracks, 2)
	require.Equal(t, "01 Come Together", album.Tracks[0].Title)
	require.Equal(t, KindTrack, album.Tracks[0].Kind)
	require.Contains(t, album.Tracks[0].URL, testPrefix)

	// Prefix match on a partial word.
	albums, err = repo.Search("beat")
	require.NoError(t, err)
	require.Len(t, albums, 1)

	// All words must match.
	albums, err = repo.Search("abbey zeppelin")
	require.NoError(t, err)
	require.Empty(t, albums)

	// Short words are ignored; an empty effective query returns nothing.
	albums, err = repo.Search("ab")
	require.NoError(t, err)
	require.Empty(t, albums)

	art, err := repo.Artwork(album.Tracks[0].ArtworkID)
	require.NoError(t, err)
	require.Equal(t, []byte("jpegbytes"), art)
}

func TestScanSkipsUnchangedDirectories(t *testing.T) {
	repo := newTestRepo(t)

	root := t.TempDir()
	albumDir := filepath.Join(root, "album")
	require.NoError(t, os.MkdirAll(albumDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(albumDir, "track.mp3"), []byte("x"), 0o644))

	scanner := NewScanner(repo, root, testPrefix, testLogger())

	changed, err := scanner.ScanDir(albumDir)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = scanner.ScanDir(albumDir)
	require.NoError(t, err)
	require.False(t, changed, "unchanged directory should be skipped")
}

func TestSplitWords(t *testing.T) {
	require.Equal(t, []string{"abbey", "road"}, splitWords("Abbey Road!", 3))
	require.Empty(t, splitWords("a b", 3))
}
