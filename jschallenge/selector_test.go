package jschallenge_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/firasghr/ChallengeGate/jschallenge"
)

// challengePage mimics the upstream's acw_sc__v2 page: an argument embedded
// in the script, a derived value written to document.cookie, then a reload.
const challengePage = `<html><head><meta charset="utf-8"></head><body>
<SCRIPT type="text/javascript">
var arg1='3A1C9F07B2';
function reverse(s) { return s.split("").reverse().join(""); }
var v = reverse(arg1);
document.cookie = "acw_sc__v2=" + v + "; expires=Thu, 01 Jan 2099 00:00:00 GMT; max-age=3600; path=/";
document.location.reload();
</SCRIPT>
</body></html>`

func TestExtractScripts_OrderAndCase(t *testing.T) {
	html := `<html><head><script>var a = "<b>not a tag</b>";</script></head>
<body><Script src="x.js"></Script><SCRIPT type="text/javascript">var c = 3;</SCRIPT></body></html>`
	got, err := jschallenge.ExtractScripts(html)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{`var a = "<b>not a tag</b>";`, "", "var c = 3;"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("scripts: got %q, want %q", got, want)
	}
}

func TestExtractScripts_IgnoresInertMarkup(t *testing.T) {
	html := `<html><body>
<!-- <script>document.cookie = "commented=1"</script> -->
<textarea><script>document.cookie = "text=1"</script></textarea>
<script>document.cookie = "live=1"</script>
</body></html>`

	got, err := jschallenge.ExtractScripts(html)
	if err != nil {
		t.Fatalf("ExtractScripts error: %v", err)
	}
	want := []string{`document.cookie = "live=1"`}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSolve_CommentedScriptOnly(t *testing.T) {
	sel := jschallenge.NewSelector(jschallenge.NewOttoSandbox(time.Second))
	_, err := sel.Solve(context.Background(), `<!-- <script>document.cookie = "a=1"</script> -->`)
	if !errors.Is(err, jschallenge.ErrNoScripts) {
		t.Errorf("expected ErrNoScripts, got %v", err)
	}
}

func TestSolve_NoScripts(t *testing.T) {
	calls := 0
	sel := jschallenge.NewSelector(sandboxFunc(func(string) (string, error) {
		calls++
		return "x=1", nil
	}))
	_, err := sel.Solve(context.Background(), "<html><body><p>nothing here</p></body></html>")
	if !errors.Is(err, jschallenge.ErrNoScripts) {
		t.Fatalf("expected ErrNoScripts, got %v", err)
	}
	if err.Error() != "no <script> tags found" {
		t.Errorf("error text: got %q", err.Error())
	}
	if calls != 0 {
		t.Errorf("sandbox invoked %d times, want 0", calls)
	}
}

func TestSolve_ChallengePage(t *testing.T) {
	forEachEngine(t, func(t *testing.T, sb jschallenge.Sandbox) {
		got, err := jschallenge.NewSelector(sb).Solve(context.Background(), challengePage)
		if err != nil {
			t.Fatalf("Solve error: %v", err)
		}
		if got != "acw_sc__v2=2B70F9C1A3" {
			t.Errorf("cookie: got %q, want acw_sc__v2=2B70F9C1A3", got)
		}
	})
}

func TestSolve_FirstThrowsSecondSucceeds(t *testing.T) {
	html := `<script>throw new Error("tracker broke");</script>
<script>document.cookie = "acw_sc__v2=ok; path=/";</script>`
	forEachEngine(t, func(t *testing.T, sb jschallenge.Sandbox) {
		got, err := jschallenge.NewSelector(sb).Solve(context.Background(), html)
		if err != nil {
			t.Fatalf("Solve error: %v", err)
		}
		if got != "acw_sc__v2=ok" {
			t.Errorf("cookie: got %q, want acw_sc__v2=ok", got)
		}
	})
}

func TestSolve_ShortCircuits(t *testing.T) {
	html := `<script>one</script><script>two</script><script>three</script>`
	var ran []string
	sel := jschallenge.NewSelector(sandboxFunc(func(script string) (string, error) {
		ran = append(ran, script)
		if script == "two" {
			return "k=2", nil
		}
		return "", jschallenge.ErrNoCookie
	}))
	got, err := sel.Solve(context.Background(), html)
	if err != nil {
		t.Fatal(err)
	}
	if got != "k=2" {
		t.Errorf("cookie: got %q, want k=2", got)
	}
	if !reflect.DeepEqual(ran, []string{"one", "two"}) {
		t.Errorf("scripts executed: got %q, want [one two]", ran)
	}
}

func TestSolve_ReportsLastError(t *testing.T) {
	html := `<script>throw new Error("first");</script>
<script>var quiet = true;</script>
<script>throw new Error("last one");</script>`
	forEachEngine(t, func(t *testing.T, sb jschallenge.Sandbox) {
		_, want := sb.Execute(context.Background(), `throw new Error("last one");`)
		_, err := jschallenge.NewSelector(sb).Solve(context.Background(), html)
		if err == nil {
			t.Fatal("expected error")
		}
		if err.Error() != want.Error() {
			t.Errorf("error: got %q, want %q", err, want)
		}
	})
}

func TestSolve_LastScriptSetsNoCookie(t *testing.T) {
	html := `<script>throw new Error("first");</script><script>var quiet = true;</script>`
	forEachEngine(t, func(t *testing.T, sb jschallenge.Sandbox) {
		_, err := jschallenge.NewSelector(sb).Solve(context.Background(), html)
		if !errors.Is(err, jschallenge.ErrNoCookie) {
			t.Errorf("expected ErrNoCookie from the last script, got %v", err)
		}
	})
}

func TestSolve_NoErrorRecordedFallsBack(t *testing.T) {
	sel := jschallenge.NewSelector(sandboxFunc(func(string) (string, error) { return "", nil }))
	_, err := sel.Solve(context.Background(), `<script></script>`)
	if !errors.Is(err, jschallenge.ErrNoCookieProduced) {
		t.Errorf("expected ErrNoCookieProduced, got %v", err)
	}
}

func TestSolve_OnAttempt(t *testing.T) {
	html := `<script>throw 1;</script><script>document.cookie = "a=b";</script>`
	var outcomes []bool
	sel := jschallenge.NewSelector(newSandbox(t, jschallenge.EngineOtto))
	sel.OnAttempt = func(_ int, err error) { outcomes = append(outcomes, err == nil) }
	if _, err := sel.Solve(context.Background(), html); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(outcomes, []bool{false, true}) {
		t.Errorf("attempts: got %v, want [false true]", outcomes)
	}
}

func TestSolve_Deterministic(t *testing.T) {
	sel := jschallenge.NewSelector(newSandbox(t, jschallenge.EngineOtto))
	first, err := sel.Solve(context.Background(), challengePage)
	if err != nil {
		t.Fatal(err)
	}
	second, err := sel.Solve(context.Background(), challengePage)
	if err != nil {
		t.Fatal(err)
	}
	if first != second || !strings.HasPrefix(first, "acw_sc__v2=") {
		t.Errorf("got %q then %q", first, second)
	}
}

// sandboxFunc adapts a plain function to jschallenge.Sandbox.
type sandboxFunc func(script string) (string, error)

func (f sandboxFunc) Execute(_ context.Context, script string) (string, error) {
	return f(script)
}
