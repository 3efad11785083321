package backend

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Runner", func() {
	var (
		bus    *Bus
		tmp    string
		runner *Runner
	)

	fakeGit := func(body string) *Resolver {
		path, err := writeScript(tmp, body)
		Expect(err).NotTo(HaveOccurred())
		return resolverFor(path)
	}

	// collect reads events until a terminal one arrives, then checks that
	// nothing follows it.
	collect := func(sub *Subscription) []Event {
		var events []Event
		Eventually(func() bool {
			for {
				select {
				case ev, ok := <-sub.Events():
					if !ok {
						return true
					}
					events = append(events, ev)
					if ev.Terminal() {
						return true
					}
				default:
					return false
				}
			}
		}).WithTimeout(5 * time.Second).Should(BeTrue())
		Consistently(sub.Events(), 100*time.Millisecond).ShouldNot(Receive())
		return events
	}

	BeforeEach(func() {
		if runtime.GOOS == "windows" {
			Skip("fake git scripts need a POSIX shell")
		}
		var err error
		tmp, err = os.MkdirTemp("", "gitcore-stream-")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, tmp)
		bus = NewBus()
		DeferCleanup(bus.Close)
	})

	It("publishes output lines then exactly one completed event", func() {
		runner = NewRunner(fakeGit(`printf 'one\r\ntwo\n'; echo progress >&2`), nil, bus, nil)
		sub := bus.Subscribe("fetch-1")
		defer sub.Close()

		id, err := runner.Start(StreamRequest{Args: []string{"fetch", "--all"}, CommandID: "fetch-1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal("fetch-1"))

		events := collect(sub)
		var stdout, stderr []string
		for _, ev := range events[:len(events)-1] {
			Expect(ev.CommandID).To(Equal("fetch-1"))
			switch ev.Kind {
			case EventStdout:
				stdout = append(stdout, ev.Data)
			case EventStderr:
				stderr = append(stderr, ev.Data)
			default:
				Fail("unexpected event kind " + string(ev.Kind))
			}
		}
		Expect(stdout).To(Equal([]string{"one", "two"}))
		Expect(stderr).To(Equal([]string{"progress"}))

		last := events[len(events)-1]
		Expect(last.Kind).To(Equal(EventCompleted))
		Expect(last.ExitCode).NotTo(BeNil())
		Expect(*last.ExitCode).To(Equal(0))
		Expect(*last.Success).To(BeTrue())
	})

	It("reports a failing exit in the completed event", func() {
		runner = NewRunner(fakeGit(`echo "rejected" >&2; exit 3`), nil, bus, nil)
		sub := bus.Subscribe("push-1")
		defer sub.Close()

		_, err := runner.Start(StreamRequest{Args: []string{"push"}, CommandID: "push-1"})
		Expect(err).NotTo(HaveOccurred())

		events := collect(sub)
		last := events[len(events)-1]
		Expect(last.Kind).To(Equal(EventCompleted))
		Expect(*last.ExitCode).To(Equal(3))
		Expect(*last.Success).To(BeFalse())
	})

	It("splits oversized lines and still completes", func() {
		runner = NewRunner(fakeGit(`head -c 2000000 /dev/zero | tr '\0' x; echo; echo after`), nil, bus, nil)
		sub := bus.Subscribe("long-1")
		defer sub.Close()

		_, err := runner.Start(StreamRequest{Args: []string{"fetch"}, CommandID: "long-1"})
		Expect(err).NotTo(HaveOccurred())

		events := collect(sub)
		last := events[len(events)-1]
		Expect(last.Kind).To(Equal(EventCompleted))
		Expect(*last.Success).To(BeTrue())

		var stdout []string
		for _, ev := range events[:len(events)-1] {
			Expect(ev.Kind).To(Equal(EventStdout))
			Expect(len(ev.Data)).To(BeNumerically("<=", maxStreamLine+64*1024))
			stdout = append(stdout, ev.Data)
		}
		Expect(len(stdout)).To(BeNumerically(">", 2))
		Expect(stdout[len(stdout)-1]).To(Equal("after"))
		Expect(strings.Join(stdout[:len(stdout)-1], "")).To(Equal(strings.Repeat("x", 2000000)))
	})

	It("publishes a single error event when git cannot be spawned", func() {
		runner = NewRunner(resolverFor(filepath.Join(tmp, "missing-git")), nil, bus, nil)
		sub := bus.Subscribe("pull-1")
		defer sub.Close()

		_, err := runner.Start(StreamRequest{Args: []string{"pull"}, CommandID: "pull-1"})
		Expect(err).NotTo(HaveOccurred())

		events := collect(sub)
		Expect(events).To(HaveLen(1))
		Expect(events[0].Kind).To(Equal(EventError))
		Expect(events[0].Data).NotTo(BeEmpty())
	})

	It("generates a correlation id when none is given", func() {
		runner = NewRunner(fakeGit(`true`), nil, bus, nil)
		sub := bus.Subscribe("")
		defer sub.Close()

		id, err := runner.Start(StreamRequest{Args: []string{"fetch"}})
		Expect(err).NotTo(HaveOccurred())
		_, err = uuid.Parse(id)
		Expect(err).NotTo(HaveOccurred())

		events := collect(sub)
		Expect(events[len(events)-1].CommandID).To(Equal(id))
	})

	It("rejects invalid requests before spawning", func() {
		runner = NewRunner(fakeGit(`true`), nil, bus, nil)

		_, err := runner.Start(StreamRequest{Args: []string{"push", ""}})
		Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())

		_, err = runner.Start(StreamRequest{Dir: filepath.Join(tmp, "nope", "nested"), Args: []string{"push"}})
		Expect(errors.Is(err, ErrInvalidPath)).To(BeTrue())

		bad := SSHCommandAuth("")
		_, err = runner.Start(StreamRequest{Args: []string{"push"}, Auth: &bad, CommandID: "bad-auth"})
		Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())
		Expect(runner.Running("bad-auth")).To(BeFalse())
	})

	It("refuses a duplicate in-flight id and frees it afterwards", func() {
		runner = NewRunner(fakeGit(`sleep 1`), nil, bus, nil)
		sub := bus.Subscribe("dup")
		defer sub.Close()

		_, err := runner.Start(StreamRequest{Args: []string{"fetch"}, CommandID: "dup"})
		Expect(err).NotTo(HaveOccurred())
		Expect(runner.Running("dup")).To(BeTrue())

		_, err = runner.Start(StreamRequest{Args: []string{"fetch"}, CommandID: "dup"})
		Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())

		collect(sub)
		Eventually(func() bool { return runner.Running("dup") }).Should(BeFalse())
		_, err = runner.Start(StreamRequest{Args: []string{"fetch"}, CommandID: "dup"})
		Expect(err).NotTo(HaveOccurred())
		runner.Wait()
	})

	It("releases credentials once the command has finished", func() {
		askpassDir := filepath.Join(tmp, "askpass")
		Expect(os.Mkdir(askpassDir, 0o700)).To(Succeed())
		runner = NewRunner(fakeGit(`echo "$GITCORE_ASKPASS_USERNAME"`), AskpassPreparer{Dir: askpassDir}, bus, nil)
		sub := bus.Subscribe("auth-1")
		defer sub.Close()

		auth := TokenAuth("tok", "")
		_, err := runner.Start(StreamRequest{Args: []string{"fetch"}, Auth: &auth, CommandID: "auth-1"})
		Expect(err).NotTo(HaveOccurred())

		events := collect(sub)
		Expect(events[0].Data).To(Equal("git"))
		runner.Wait()
		entries, err := os.ReadDir(askpassDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())
	})
})
