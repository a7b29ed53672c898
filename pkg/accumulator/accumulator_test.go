package accumulator_test

import (
	"testing"
	"time"

	"github.com/Hi-dle-hancom/frontend-sub003/pkg/accumulator"
	"github.com/Hi-dle-hancom/frontend-sub003/pkg/faults"
	"github.com/Hi-dle-hancom/frontend-sub003/pkg/message"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestAccumulator(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Accumulator Suite")
}

// recorder captures every callback invocation for assertions
type recorder struct {
	flushes   []string
	completes []string
	errors    []error
}

func (r *recorder) callbacks() accumulator.Callbacks {
	return accumulator.Callbacks{
		OnFlush:    func(text string) { r.flushes = append(r.flushes, text) },
		OnComplete: func(final string) { r.completes = append(r.completes, final) },
		OnError:    func(err error) { r.errors = append(r.errors, err) },
	}
}

func token(content string) message.ChunkEvent {
	return message.ChunkEvent{Type: message.ChunkTypeToken, Content: content}
}

func completeEvent() message.ChunkEvent {
	return message.ChunkEvent{Type: message.ChunkTypeComplete, IsComplete: true}
}

var _ = Describe("Accumulator", func() {
	var (
		rec *recorder
		acc *accumulator.Accumulator
	)

	newAcc := func(cfg accumulator.Config) {
		rec = &recorder{}
		acc = accumulator.New(cfg, rec.callbacks())
	}

	BeforeEach(func() {
		newAcc(accumulator.Config{})
	})

	Describe("chunk concatenation", func() {
		It("should join chunk content in arrival order", func() {
			Expect(acc.Feed(token("hello "))).To(Succeed())
			Expect(acc.Feed(token("world"))).To(Succeed())
			Expect(acc.Feed(completeEvent())).To(Succeed())

			Expect(rec.completes).To(HaveLen(1))
			Expect(rec.completes[0]).To(Equal("hello world"))
		})

		It("should fire the terminal callback exactly once", func() {
			Expect(acc.Feed(token("abc"))).To(Succeed())
			Expect(acc.Feed(completeEvent())).To(Succeed())
			Expect(acc.Feed(token("late"))).To(Succeed())
			Expect(acc.Feed(completeEvent())).To(Succeed())

			Expect(rec.completes).To(HaveLen(1))
			Expect(rec.completes[0]).To(Equal("abc"))
			Expect(rec.errors).To(BeEmpty())
		})

		It("should track chunk and byte counts", func() {
			Expect(acc.Feed(token("1234"))).To(Succeed())
			Expect(acc.Feed(token("56"))).To(Succeed())

			chunks, bytes, elapsed := acc.Stats()
			Expect(chunks).To(Equal(2))
			Expect(bytes).To(Equal(6))
			Expect(elapsed).To(BeNumerically(">=", 0))
		})
	})

	Describe("completion sentinels", func() {
		It("should complete and truncate at [DONE]", func() {
			Expect(acc.Feed(token("result[DONE]trailing"))).To(Succeed())

			Expect(rec.completes).To(HaveLen(1))
			Expect(rec.completes[0]).To(Equal("result"))
		})

		It("should detect a sentinel split across chunks", func() {
			Expect(acc.Feed(token("answer<|endo"))).To(Succeed())
			Expect(rec.completes).To(BeEmpty())

			Expect(acc.Feed(token("ftext|>"))).To(Succeed())
			Expect(rec.completes).To(HaveLen(1))
			Expect(rec.completes[0]).To(Equal("answer"))
		})

		It("should recognize [END_OF_RESPONSE]", func() {
			Expect(acc.Feed(token("done[END_OF_RESPONSE]"))).To(Succeed())
			Expect(rec.completes).To(Equal([]string{"done"}))
		})
	})

	Describe("bundled flushes", func() {
		It("should hold small chunks until the size threshold", func() {
			newAcc(accumulator.Config{FlushSize: 10, FlushInterval: time.Hour})

			Expect(acc.Feed(token("abc"))).To(Succeed())
			Expect(rec.flushes).To(BeEmpty())

			Expect(acc.Feed(token("defghijkl"))).To(Succeed())
			Expect(rec.flushes).To(Equal([]string{"abcdefghijkl"}))
		})

		It("should flush immediately on newline", func() {
			newAcc(accumulator.Config{FlushSize: 1000, FlushInterval: time.Hour})

			Expect(acc.Feed(token("line\n"))).To(Succeed())
			Expect(rec.flushes).To(Equal([]string{"line\n"}))
		})

		It("should flush after the interval elapses", func() {
			newAcc(accumulator.Config{FlushSize: 1000, FlushInterval: 20 * time.Millisecond})

			Expect(acc.Feed(token("ab"))).To(Succeed())
			Expect(rec.flushes).To(BeEmpty())

			time.Sleep(30 * time.Millisecond)
			Expect(acc.Feed(token("cd"))).To(Succeed())
			Expect(rec.flushes).To(Equal([]string{"abcd"}))
		})

		It("should flush the remainder on completion", func() {
			newAcc(accumulator.Config{FlushSize: 1000, FlushInterval: time.Hour})

			Expect(acc.Feed(token("tail"))).To(Succeed())
			Expect(acc.Feed(completeEvent())).To(Succeed())

			Expect(rec.flushes).To(Equal([]string{"tail"}))
			Expect(rec.completes).To(Equal([]string{"tail"}))
		})
	})

	Describe("resource ceilings", func() {
		It("should force completion with a truncation notice at max chunks", func() {
			newAcc(accumulator.Config{MaxChunks: 3})

			Expect(acc.Feed(token("a"))).To(Succeed())
			Expect(acc.Feed(token("b"))).To(Succeed())
			Expect(acc.Feed(token("c"))).To(Succeed())
			Expect(acc.Feed(token("d"))).To(Succeed())
			Expect(acc.Feed(token("e"))).To(Succeed())

			Expect(rec.completes).To(HaveLen(1))
			Expect(rec.completes[0]).To(Equal("abc" + accumulator.TruncationNotice))

			chunks, _, _ := acc.Stats()
			Expect(chunks).To(Equal(3))
		})

		It("should force completion at the byte ceiling", func() {
			newAcc(accumulator.Config{MaxBytes: 8})

			Expect(acc.Feed(token("12345678"))).To(Succeed())

			Expect(rec.completes).To(HaveLen(1))
			Expect(rec.completes[0]).To(Equal("12345678" + accumulator.TruncationNotice))
		})

		It("should force completion at the duration ceiling", func() {
			newAcc(accumulator.Config{MaxDuration: 10 * time.Millisecond})

			Expect(acc.Feed(token("x"))).To(Succeed())
			time.Sleep(20 * time.Millisecond)
			Expect(acc.Feed(token("y"))).To(Succeed())

			Expect(rec.completes).To(HaveLen(1))
			Expect(rec.completes[0]).To(Equal("xy" + accumulator.TruncationNotice))
		})
	})

	Describe("early exit", func() {
		It("should complete a simple request once the buffer looks whole", func() {
			newAcc(accumulator.Config{Prompt: "print hello world"})

			Expect(acc.Feed(token("print('hello world')\n"))).To(Succeed())

			Expect(rec.completes).To(HaveLen(1))
			Expect(rec.completes[0]).To(Equal("print('hello world')"))
		})

		It("should not exit early while brackets are unbalanced", func() {
			newAcc(accumulator.Config{Prompt: "print hello"})

			Expect(acc.Feed(token("print('hello'\n"))).To(Succeed())
			Expect(rec.completes).To(BeEmpty())
		})

		It("should never exit early on a long prompt", func() {
			prompt := "please print an extensive report covering every module in the system"
			newAcc(accumulator.Config{Prompt: prompt})

			Expect(acc.Feed(token("print('report')\n"))).To(Succeed())
			Expect(rec.completes).To(BeEmpty())
		})

		It("should wait for the configured statement count", func() {
			newAcc(accumulator.Config{
				Prompt: "print pair",
				Policy: accumulator.Policy{MinStatement: 2},
			})

			Expect(acc.Feed(token("print(1)\n"))).To(Succeed())
			Expect(rec.completes).To(BeEmpty())

			Expect(acc.Feed(token("print(2)\n"))).To(Succeed())
			Expect(rec.completes).To(HaveLen(1))
		})

		It("should honor an overridden policy", func() {
			newAcc(accumulator.Config{
				Prompt: "show greeting",
				Policy: accumulator.Policy{MaxPromptLen: 30, Keywords: []string{"greeting"}},
			})

			Expect(acc.Feed(token("greeting()\n"))).To(Succeed())
			Expect(rec.completes).To(HaveLen(1))
		})
	})

	Describe("errors", func() {
		It("should surface an error chunk as the single terminal result", func() {
			Expect(acc.Feed(token("partial"))).To(Succeed())
			err := acc.Feed(message.ChunkEvent{Type: message.ChunkTypeError, Content: "backend exploded"})

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("backend exploded"))
			Expect(faults.IsPermanent(err)).To(BeTrue())
			Expect(rec.errors).To(HaveLen(1))
			Expect(rec.completes).To(BeEmpty())
		})
	})

	Describe("Cancel", func() {
		It("should drop subsequent chunks without a terminal callback", func() {
			Expect(acc.Feed(token("before"))).To(Succeed())
			acc.Cancel()
			Expect(acc.Feed(token("after"))).To(Succeed())
			Expect(acc.Feed(completeEvent())).To(Succeed())

			Expect(rec.completes).To(BeEmpty())
			Expect(rec.errors).To(BeEmpty())
		})

		It("should be safe to call twice", func() {
			acc.Cancel()
			Expect(func() { acc.Cancel() }).ToNot(Panic())
		})
	})
})

var _ = Describe("Normalize", func() {
	It("should strip leftover protocol tokens", func() {
		Expect(accumulator.Normalize("code[DONE]")).To(Equal("code"))
		Expect(accumulator.Normalize("a<|endoftext|>b")).To(Equal("ab"))
	})

	It("should collapse duplicated definition blocks", func() {
		in := "def greet():\n    return 1\ndef greet():\n    return 1\nprint(greet())"
		Expect(accumulator.Normalize(in)).To(Equal("def greet():\n    return 1\nprint(greet())"))
	})

	It("should keep distinct definitions", func() {
		in := "def a():\n    pass\ndef b():\n    pass"
		Expect(accumulator.Normalize(in)).To(Equal(in))
	})

	It("should close an unterminated triple-quoted string", func() {
		out := accumulator.Normalize(`doc = """unfinished`)
		Expect(out).To(Equal("doc = \"\"\"unfinished\n\"\"\""))
	})

	It("should trim trailing whitespace", func() {
		Expect(accumulator.Normalize("text   \n\n")).To(Equal("text"))
	})
})
