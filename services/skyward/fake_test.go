package skyward

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	scraper "skyassist-backend/lib/scrapers/skyward"
)

var portalTokens = scraper.SessionTokens{
	Dwd:       "dwd",
	Wfaacl:    "wfaacl",
	Encses:    "encses",
	UserType:  "student",
	SessionId: "a\x15b",
	BaseUrl:   "https://portal.example.com/scripts/",
}

// fakeUpstream is a scripted portal. expire counts how many upcoming calls of
// an operation answer with an expired session.
type fakeUpstream struct {
	mutex sync.Mutex

	loginErr   error
	loginGate  chan struct{}
	logins     int
	lastTokens scraper.SessionTokens

	home      string
	more      map[string]string
	moreCalls []string
	history   string
	gradebook string
	gradeInfo string

	// historyStall makes the first history call block until its context ends.
	historyStall   bool
	historyCalls   int
	gradebookCalls int
	gradeInfoCalls int

	expire map[string]int
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		more:   map[string]string{},
		expire: map[string]int{},
	}
}

func (f *fakeUpstream) Login(ctx context.Context, creds scraper.Credentials) (scraper.SessionTokens, error) {
	if f.loginGate != nil {
		<-f.loginGate
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.logins++
	if f.loginErr != nil {
		return scraper.SessionTokens{}, f.loginErr
	}
	return portalTokens, nil
}

func (f *fakeUpstream) call(operation string, tokens scraper.SessionTokens) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.lastTokens = tokens
	if f.expire[operation] > 0 {
		f.expire[operation]--
		return scraper.ErrSessionExpired
	}
	return nil
}

func (f *fakeUpstream) FetchHome(ctx context.Context, tokens scraper.SessionTokens) (string, error) {
	if err := f.call("home", tokens); err != nil {
		return "", err
	}
	return f.home, nil
}

func (f *fakeUpstream) FetchMoreMessages(ctx context.Context, tokens scraper.SessionTokens, lastId string) (string, error) {
	if err := f.call("more", tokens); err != nil {
		return "", err
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.moreCalls = append(f.moreCalls, lastId)
	return f.more[lastId], nil
}

func (f *fakeUpstream) FetchGradebook(ctx context.Context, tokens scraper.SessionTokens) (string, error) {
	if err := f.call("gradebook", tokens); err != nil {
		return "", err
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.gradebookCalls++
	return f.gradebook, nil
}

func (f *fakeUpstream) FetchGradeInfo(ctx context.Context, tokens scraper.SessionTokens, params scraper.GradeInfoParams) (string, error) {
	if err := f.call("gradeInfo", tokens); err != nil {
		return "", err
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.gradeInfoCalls++
	return f.gradeInfo, nil
}

func (f *fakeUpstream) FetchHistory(ctx context.Context, tokens scraper.SessionTokens) (string, error) {
	if err := f.call("history", tokens); err != nil {
		return "", err
	}
	f.mutex.Lock()
	f.historyCalls++
	stall := f.historyStall && f.historyCalls == 1
	f.mutex.Unlock()

	if stall {
		select {
		case <-ctx.Done():
			return "", &scraper.TransportError{Endpoint: "history", Err: ctx.Err()}
		case <-time.After(5 * time.Second):
		}
	}
	return f.history, nil
}

// messagesPage renders a home page or "load more" batch with one message per
// id, the last id becomes the page's cursor.
func messagesPage(ids ...string) string {
	var items, scripts strings.Builder
	for i, id := range ids {
		fmt.Fprintf(&items, `<li class="feedItem allowRemove"><div class="message" data-message-row-id="%s" data-class-name="BIOLOGY">
<span class="messageFrom">Doe, Jane</span><span class="messageDate">Mon Sep %d, 2024 8:00am</span>
<span class="messageSubject">Note %s</span><div class="messageBody"><span id="body%s"></span></div></div></li>`, id, i+1, id, id)
		fmt.Fprintf(&scripts, "$('#body%s').append('<p>Message %s</p>');\n", id, id)
	}
	return "<html><body><ul>" + items.String() + "</ul><script>" + scripts.String() + "</script></body></html>"
}

const historyFixture = `<html><body><script>
sff.sv('sf_gridObjects', $.extend((sff.getValue('sf_gridObjects') || {}), {
	'gradeGrid_history': {tb: {r: [
		{c: [{h: '2023 - 2024 (Grade 10)'}]},
		{c: [{h: '<a href="#">GEOMETRY</a>'}, {h: '1 - 4'}, {h: '88'}, {h: '89'}, {h: '90'}, {h: ''}, {h: ''}, {h: ''}, {h: '86'}, {h: '89'}, {h: ''}, {h: ''}, {h: ''}, {h: ''}, {h: ''}, {h: ''}, {h: '84'}, {h: ''}]},
		{c: [{h: '2024 - 2025 (Grade 11)'}]},
		{c: [{h: '<a href="#">ALGEBRA II</a>'}, {h: '1 - 4'}, {h: '80'}, {h: '82'}, {h: '85'}, {h: ''}, {h: ''}, {h: ''}, {h: '79'}, {h: ''}, {h: ''}, {h: ''}, {h: ''}, {h: ''}, {h: ''}, {h: ''}, {h: '81'}, {h: ''}]},
		{c: [{h: '<a href="#">CHEMISTRY</a>'}, {h: '1 - 2'}, {h: '70'}, {h: ''}, {h: ''}, {h: ''}, {h: ''}, {h: ''}, {h: ''}, {h: ''}, {h: ''}, {h: ''}, {h: ''}, {h: ''}, {h: ''}, {h: ''}, {h: ''}, {h: ''}]},
	]}},
}));
</script></body></html>`

const gradebookFixture = `<html><body>
<table id="classDesc_12345_678_1_9001">
  <tr><td>ALGEBRA II</td></tr>
  <tr><td>Period 2 (8:50 AM - 9:40 AM)</td></tr>
  <tr><td>SMITH, JOHN</td></tr>
</table>
<table id="classDesc_12345_910_2_9002">
  <tr><td>BIOLOGY</td></tr>
  <tr><td>Period 3 (9:45 AM - 10:35 AM)</td></tr>
  <tr><td>DOE, JANE</td></tr>
</table>
<a id="showGradeInfo" data-cni="678" data-sec="1" data-gid="9001" data-bkt="TERM 3">91</a>
<a id="showGradeInfo" data-cni="910" data-sec="2" data-gid="9002" data-bkt="TERM 1">88</a>
<a id="showGradeInfo" data-cni="910" data-sec="2" data-gid="9002" data-bkt="TERM 7">90</a>
</body></html>`

const gradeInfoFixture = `<data><![CDATA[<table id="grid_stuAssignmentSummaryGrid_678"><tbody>
<tr class="sf_Section cat"><td><span class="bld">DAILY</span></td><td>(weighted at 20.00%)</td></tr>
<tr><td>09/03/24</td><td><a id="showAssignmentInfo">HW 1</a></td><td>90</td><td>90.0</td><td>9 out of 10</td><td></td><td></td><td></td></tr>
<tr class="sf_Section cat"><td><span class="bld">LABS</span></td><td>(weighted at 30.00%)</td></tr>
<tr class="sf_Section cat"><td><span class="bld">MAJOR</span></td><td>(weighted at 50.00%)</td></tr>
<tr><td>09/10/24</td><td><a id="showAssignmentInfo">Test 1</a></td><td>80</td><td>80.0</td><td>80 out of 100</td><td></td><td></td><td></td></tr>
<tr><td>09/17/24</td><td><a id="showAssignmentInfo">Test 2</a></td><td>*</td><td>*</td><td></td><td></td><td></td><td></td></tr>
</tbody></table>]]></data>`
