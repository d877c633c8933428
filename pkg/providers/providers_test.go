package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortsforge/shortsforge/pkg/config"
	"github.com/shortsforge/shortsforge/pkg/errkind"
	"github.com/shortsforge/shortsforge/pkg/resilience"
)

func newTestCaller() *resilience.Caller {
	cfg := config.Default().Resilience
	cfg.RetryBase = time.Millisecond
	cfg.RetryCap = 5 * time.Millisecond
	return resilience.NewCaller(cfg, nil)
}

func words(n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("word%d", i)
	}
	return strings.Join(out, " ")
}

func genReply(text string) string {
	quoted, _ := json.Marshal(text)
	return fmt.Sprintf(`{"candidates":[{"content":{"parts":[{"text":%s}]}}]}`, quoted)
}

func TestTextGenScript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, ":generateContent")
		assert.NotEmpty(t, r.Header.Get("x-goog-api-key"))
		fmt.Fprint(w, genReply(words(160)))
	}))
	defer srv.Close()

	tg := NewTextGen(newTestCaller(), "key", srv.URL, "")
	script, err := tg.GenerateScript(context.Background(), "ik", "rivers", 160)
	require.NoError(t, err)
	assert.Len(t, strings.Fields(script), 160)
}

func TestTextGenScriptRejectsWrongLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, genReply(words(40)))
	}))
	defer srv.Close()

	tg := NewTextGen(newTestCaller(), "key", srv.URL, "")
	_, err := tg.GenerateScript(context.Background(), "ik", "rivers", 160)
	require.Error(t, err)
	assert.Equal(t, errkind.Validation, errkind.KindOf(err))
}

func TestTextGenIdeasStripsCodeFence(t *testing.T) {
	fenced := "```json\n[{\"title\":\"T1\",\"concept\":\"C1\"},{\"title\":\"T2\",\"concept\":\"C2\"}]\n```"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, genReply(fenced))
	}))
	defer srv.Close()

	tg := NewTextGen(newTestCaller(), "key", srv.URL, "")
	ideas, err := tg.GenerateIdeas(context.Background(), "ik", "science", 2)
	require.NoError(t, err)
	require.Len(t, ideas, 2)
	assert.Equal(t, "T1", ideas[0].Title)
}

func TestTextGenAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	tg := NewTextGen(newTestCaller(), "key", srv.URL, "")
	_, err := tg.GenerateScript(context.Background(), "ik", "rivers", 160)
	require.Error(t, err)
	assert.Equal(t, errkind.Auth, errkind.KindOf(err))
}

func TestMetadataValidate(t *testing.T) {
	good := VideoMetadata{Title: "T", Description: "D", Tags: []string{"a", "b"}}
	assert.NoError(t, good.Validate())

	assert.Error(t, VideoMetadata{Title: ""}.Validate())
	assert.Error(t, VideoMetadata{Title: strings.Repeat("x", 200)}.Validate())

	tooMany := VideoMetadata{Title: "T", Tags: make([]string, 16)}
	assert.Error(t, tooMany.Validate())
}

func TestTopicAngleRotates(t *testing.T) {
	seen := map[string]bool{}
	for run := 0; run < len(topicAngles); run++ {
		seen[TopicAngle(run)] = true
	}
	assert.Len(t, seen, len(topicAngles))
	assert.Equal(t, TopicAngle(0), TopicAngle(len(topicAngles)))
}

func TestTTSSynthesizeStreams(t *testing.T) {
	audio := bytes.Repeat([]byte{0xFF, 0xFB}, 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("xi-api-key"))
		assert.Contains(t, r.URL.Path, "/v1/text-to-speech/")
		var body ttsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello world", body.Text)
		_, _ = w.Write(audio)
	}))
	defer srv.Close()

	tts := NewTTS(newTestCaller(), "k", srv.URL, "")
	var buf bytes.Buffer
	n, err := tts.Synthesize(context.Background(), "ik", "hello world", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(audio)), n)
	assert.Equal(t, audio, buf.Bytes())
}

func TestTTSRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tts := NewTTS(newTestCaller(), "k", srv.URL, "")
	_, err := tts.Synthesize(context.Background(), "ik", "hello", &bytes.Buffer{})
	require.Error(t, err)
	assert.Equal(t, errkind.RateLimited, errkind.KindOf(err))
}

func TestAlignerFiltersBadWords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(32<<20))
		assert.Equal(t, "hello world", r.FormValue("text"))
		_, _, err := r.FormFile("file")
		require.NoError(t, err)
		fmt.Fprint(w, `{"words":[
			{"text":"hello","start":0.0,"end":0.4},
			{"text":"","start":0.4,"end":0.5},
			{"text":"world","start":0.5,"end":0.9},
			{"text":"broken","start":1.0,"end":0.2}
		]}`)
	}))
	defer srv.Close()

	audio := filepath.Join(t.TempDir(), "n.mp3")
	require.NoError(t, os.WriteFile(audio, []byte("mp3data"), 0o644))

	a := NewAligner(newTestCaller(), "k", srv.URL)
	timings, err := a.Align(context.Background(), "ik", "hello world", audio)
	require.NoError(t, err)
	require.Len(t, timings, 2)
	assert.Equal(t, "hello", timings[0].Word)
	assert.Equal(t, "world", timings[1].Word)
}

func TestStockSearchPicksBestMP4(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "portrait", r.URL.Query().Get("orientation"))
		fmt.Fprint(w, `{"videos":[{
			"id": 7, "width": 1080, "height": 1920, "duration": 12.5,
			"video_files": [
				{"link":"http://cdn/low.mp4","width":540,"height":960,"file_type":"video/mp4"},
				{"link":"http://cdn/high.mp4","width":1080,"height":1920,"file_type":"video/mp4"},
				{"link":"http://cdn/h.webm","width":2160,"height":3840,"file_type":"video/webm"}
			]}]}`)
	}))
	defer srv.Close()

	s := NewStockSearch(newTestCaller(), "k", srv.URL)
	clips, err := s.Search(context.Background(), "ik", "rivers", 10)
	require.NoError(t, err)
	require.Len(t, clips, 1)
	assert.Equal(t, "http://cdn/high.mp4", clips[0].URL)
	assert.True(t, clips[0].Portrait())
}

func TestStockSearchNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"videos":[]}`)
	}))
	defer srv.Close()

	s := NewStockSearch(newTestCaller(), "k", srv.URL)
	_, err := s.Search(context.Background(), "ik", "nothing", 10)
	require.Error(t, err)
	assert.Equal(t, errkind.Client, errkind.KindOf(err))
}

func TestTrendsDisabledWithoutCredentials(t *testing.T) {
	tr := NewTrends(context.Background(), newTestCaller(), TrendsConfig{UserAgent: "ua"})
	assert.False(t, tr.Enabled())
	trends, err := tr.List(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, trends)
}

func trendsServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Trends) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok","token_type":"bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/", handler)
	srv := httptest.NewServer(mux)
	tr := NewTrends(context.Background(), newTestCaller(), TrendsConfig{
		ClientID: "id", ClientSecret: "secret", UserAgent: "ua",
		Categories: []string{"todayilearned"}, MinScore: 5000,
		BaseURL: srv.URL, TokenURL: srv.URL + "/token",
	})
	return srv, tr
}

func TestTrendsFiltersByScore(t *testing.T) {
	srv, tr := trendsServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"children":[
			{"data":{"title":"big","score":999999,"permalink":"/r/x/1","stickied":false,"over_18":false}},
			{"data":{"title":"small","score":3,"permalink":"/r/x/2","stickied":false,"over_18":false}},
			{"data":{"title":"pinned","score":999999,"permalink":"/r/x/3","stickied":true,"over_18":false}}
		]}}`)
	})
	defer srv.Close()

	require.True(t, tr.Enabled())
	trends, err := tr.List(context.Background(), 3)
	require.NoError(t, err)
	for _, trend := range trends {
		assert.Equal(t, "big", trend.Title)
	}
	assert.NotEmpty(t, trends)
}

func TestTrendsDegradesOnForbidden(t *testing.T) {
	srv, tr := trendsServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	})
	defer srv.Close()

	trends, err := tr.List(context.Background(), 5)
	require.NoError(t, err, "a forbidden trend source must not fail the run")
	assert.Empty(t, trends)
	assert.False(t, tr.Enabled(), "source disabled after rejection")
}

func TestDownloaderChunked(t *testing.T) {
	content := bytes.Repeat([]byte("abcdefgh"), 1<<20) // 8 MiB, forces multiple chunks
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "clip.mp4", time.Now(), bytes.NewReader(content))
	}))
	defer srv.Close()

	d := NewDownloader(newTestCaller())
	var buf bytes.Buffer
	n, err := d.Fetch(context.Background(), ServiceStockClips, srv.URL, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), n)
	assert.Equal(t, content, buf.Bytes())
}

func TestDownloaderFallsBackWhenRangeIgnored(t *testing.T) {
	content := []byte("small file")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(content) // plain 200, no ranges
	}))
	defer srv.Close()

	d := NewDownloader(newTestCaller())
	var buf bytes.Buffer
	n, err := d.Fetch(context.Background(), ServiceStockClips, srv.URL, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), n)
}

func TestDownloaderRejectsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDownloader(newTestCaller())
	_, err := d.Fetch(context.Background(), ServiceStockClips, srv.URL, &bytes.Buffer{})
	require.Error(t, err)
	assert.Equal(t, errkind.Validation, errkind.KindOf(err))
}
