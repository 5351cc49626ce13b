package access_test

import (
	"context"
	"io"
	"mime/multipart"
	"sync"
	"time"

	"github.com/goliatone/go-access"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/mock"
)

// fakeAuthProvider implements access.AuthProvider. Emit pushes identity
// changes to registered listeners synchronously.
type fakeAuthProvider struct {
	mu          sync.Mutex
	session     *access.Identity
	sessionErr  error
	sessionHook func()
	listeners   map[int]access.IdentityListener
	nextID      int

	signInURL      string
	signInErr      error
	signInProvider string
	signInRedirect string

	signOutErr   error
	signOutHook  func()
	signOutCalls int
}

func newFakeAuthProvider(session *access.Identity) *fakeAuthProvider {
	return &fakeAuthProvider{
		session:   session,
		listeners: map[int]access.IdentityListener{},
		signInURL: "https://accounts.example.com/authorize",
	}
}

func (f *fakeAuthProvider) GetSession(ctx context.Context) (*access.Identity, error) {
	f.mu.Lock()
	hook := f.sessionHook
	session, err := f.session.Clone(), f.sessionErr
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return session, err
}

func (f *fakeAuthProvider) OnIdentityChange(listener access.IdentityListener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = listener
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeAuthProvider) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signInProvider = provider
	f.signInRedirect = redirectTo
	if f.signInErr != nil {
		return "", f.signInErr
	}
	return f.signInURL, nil
}

func (f *fakeAuthProvider) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.signOutCalls++
	hook := f.signOutHook
	err := f.signOutErr
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return err
	}
	f.Emit(nil)
	return nil
}

func (f *fakeAuthProvider) Emit(identity *access.Identity) {
	f.mu.Lock()
	listeners := make([]access.IdentityListener, 0, len(f.listeners))
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()
	for _, l := range listeners {
		l(identity.Clone())
	}
}

func (f *fakeAuthProvider) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// MockProfileStore implements access.ProfileStore
type MockProfileStore struct {
	mock.Mock
}

func (m *MockProfileStore) GetProfileByID(ctx context.Context, id string) (*access.Profile, error) {
	args := m.Called(ctx, id)
	profile, _ := args.Get(0).(*access.Profile)
	return profile, args.Error(1)
}

// profileStoreFunc adapts a function to access.ProfileStore
type profileStoreFunc func(ctx context.Context, id string) (*access.Profile, error)

func (f profileStoreFunc) GetProfileByID(ctx context.Context, id string) (*access.Profile, error) {
	return f(ctx, id)
}

// fakeTimer replaces time.After. Fire releases every pending timer.
type fakeTimer struct {
	mu        sync.Mutex
	durations []time.Duration
	channels  []chan time.Time
	armed     chan struct{}
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{armed: make(chan struct{}, 16)}
}

func (f *fakeTimer) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	f.mu.Lock()
	f.durations = append(f.durations, d)
	f.channels = append(f.channels, ch)
	f.mu.Unlock()
	f.armed <- struct{}{}
	return ch
}

func (f *fakeTimer) Fire() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.channels {
		select {
		case ch <- time.Now():
		default:
		}
	}
}

func (f *fakeTimer) Durations() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.durations...)
}

// recordingSink collects activity events
type recordingSink struct {
	mu     sync.Mutex
	events []access.ActivityEvent
}

func (r *recordingSink) Record(ctx context.Context, event access.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) Types() []access.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]access.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

// stateRecorder subscribes to a machine and keeps every published state
type stateRecorder struct {
	mu     sync.Mutex
	states []access.AccessState
}

func (r *stateRecorder) Listen(state access.AccessState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *stateRecorder) States() []access.AccessState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]access.AccessState(nil), r.states...)
}

// captureLogger implements access.Logger and lets tests wait for messages
type captureLogger struct {
	mu       sync.Mutex
	messages []string
	notify   chan string
}

func newCaptureLogger() *captureLogger {
	return &captureLogger{notify: make(chan string, 64)}
}

func (l *captureLogger) log(msg string) {
	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()
	select {
	case l.notify <- msg:
	default:
	}
}

func (l *captureLogger) Debug(msg string, args ...any) { l.log(msg) }
func (l *captureLogger) Info(msg string, args ...any)  { l.log(msg) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.log(msg) }
func (l *captureLogger) Error(msg string, args ...any) { l.log(msg) }

func (l *captureLogger) WaitFor(msg string, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		l.mu.Lock()
		for _, m := range l.messages {
			if m == msg {
				l.mu.Unlock()
				return true
			}
		}
		l.mu.Unlock()
		select {
		case <-l.notify:
		case <-deadline:
			return false
		}
	}
}

// MockContext implements router.Context
type MockContext struct {
	mock.Mock
	NextCalled bool
}

func (m *MockContext) Next() error {
	m.NextCalled = true
	return nil
}

func (m *MockContext) Context() context.Context {
	args := m.Called()
	c, ok := args.Get(0).(context.Context)
	if !ok {
		panic("arg needs to be context.Context")
	}
	return c
}

func (m *MockContext) SetContext(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockContext) Path() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Method() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Body() []byte {
	args := m.Called()
	return args.Get(0).([]byte)
}

func (m *MockContext) Status(code int) router.Context {
	m.Called(code)
	return m
}

func (m *MockContext) SendString(s string) error {
	args := m.Called(s)
	return args.Error(0)
}

func (m *MockContext) Send(b []byte) error {
	args := m.Called(b)
	return args.Error(0)
}

func (m *MockContext) JSON(code int, val any) error {
	args := m.Called(code, val)
	return args.Error(0)
}

func (m *MockContext) NoContent(code int) error {
	args := m.Called(code)
	return args.Error(0)
}

func (m *MockContext) Render(name string, bind any, layout ...string) error {
	if len(layout) > 0 {
		args := m.Called(name, bind, layout[0])
		return args.Error(0)
	}
	args := m.Called(name, bind)
	return args.Error(0)
}

func (m *MockContext) Redirect(path string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(path, status)
		return args.Error(0)
	}
	args := m.Called(path)
	return args.Error(0)
}

func (m *MockContext) RedirectToRoute(name string, data router.ViewContext, status ...int) error {
	if len(status) > 0 {
		args := m.Called(name, data, status[0])
		return args.Error(0)
	}
	args := m.Called(name, data)
	return args.Error(0)
}

func (m *MockContext) RedirectBack(fallback string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(fallback, status)
		return args.Error(0)
	}
	args := m.Called(fallback)
	return args.Error(0)
}

func (m *MockContext) SetHeader(key, val string) router.Context {
	m.Called(key, val)
	return m
}

func (m *MockContext) Header(key string) string {
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Get(key string, defaultValue any) any {
	args := m.Called(key, defaultValue)
	return args.Get(0)
}

func (m *MockContext) GetBool(key string, defaultValue bool) bool {
	args := m.Called(key, defaultValue)
	return args.Bool(0)
}

func (m *MockContext) GetInt(key string, def int) int {
	args := m.Called(key, def)
	return args.Int(0)
}

func (m *MockContext) Set(key string, val any) {
	m.Called(key, val)
}

func (m *MockContext) Bind(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindJSON(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindXML(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindQuery(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) CookieParser(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) Cookie(cookie *router.Cookie) {
	m.Called(cookie)
}

func (m *MockContext) Cookies(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Param(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) ParamsInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Query(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) QueryInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Queries() map[string]string {
	args := m.Called()
	return args.Get(0).(map[string]string)
}

func (m *MockContext) GetString(key string, defaultValue string) string {
	args := m.Called(key, defaultValue)
	return args.String(0)
}

func (m *MockContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		m.Called(key, value[0])
		return nil
	}
	args := m.Called(key)
	return args.Get(0)
}

func (m *MockContext) OriginalURL() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) OnNext(callback func() error) {
	m.Called(callback)
}

func (m *MockContext) Referer() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) FormFile(key string) (*multipart.FileHeader, error) {
	args := m.Called(key)
	fh, _ := args.Get(0).(*multipart.FileHeader)
	return fh, args.Error(1)
}

func (m *MockContext) FormValue(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) IP() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) LocalsMerge(key any, value map[string]any) map[string]any {
	args := m.Called(key, value)
	merged, _ := args.Get(0).(map[string]any)
	return merged
}

func (m *MockContext) QueryValues(name string) []string {
	args := m.Called(name)
	values, _ := args.Get(0).([]string)
	return values
}

func (m *MockContext) RouteName() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) RouteParams() map[string]string {
	args := m.Called()
	params, _ := args.Get(0).(map[string]string)
	return params
}

func (m *MockContext) SendStatus(code int) error {
	args := m.Called(code)
	return args.Error(0)
}

func (m *MockContext) SendStream(r io.Reader) error {
	args := m.Called(r)
	return args.Error(0)
}
