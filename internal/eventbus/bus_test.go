package eventbus

import (
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestBus_PublishInRegistrationOrder(t *testing.T) {
	bus := New()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		bus.Subscribe(ChannelSystemStatus, func(Event) { order = append(order, i) })
	}

	bus.Publish(SystemStatus{Status: "ok"})

	if len(order) != 5 {
		t.Fatalf("delivered %d times, want 5", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Errorf("order[%d] = %d, want %d", i, got, i)
		}
	}
}

func TestBus_PanickingHandlerIsIsolated(t *testing.T) {
	var panics []Channel
	bus := New(WithPanicHandler(func(ch Channel, _ any) { panics = append(panics, ch) }))

	var delivered []string
	bus.Subscribe(ChannelThreatAlert, func(Event) { delivered = append(delivered, "first") })
	bus.Subscribe(ChannelThreatAlert, func(Event) { panic("handler bug") })
	bus.Subscribe(ChannelThreatAlert, func(Event) { delivered = append(delivered, "third") })

	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("panic reached publisher: %v", r)
			}
		}()
		bus.Publish(ThreatAlert{IncidentID: "inc-1"})
	}()

	if len(delivered) != 2 || delivered[0] != "first" || delivered[1] != "third" {
		t.Errorf("delivered = %v, want [first third]", delivered)
	}
	if len(panics) != 1 || panics[0] != ChannelThreatAlert {
		t.Errorf("panic hook calls = %v", panics)
	}
}

func TestBus_UnsubscribeRemovesExactlyOne(t *testing.T) {
	bus := New()

	var a, b int
	unsubA := bus.Subscribe(ChannelAdminAlert, func(Event) { a++ })
	bus.Subscribe(ChannelAdminAlert, func(Event) { b++ })

	unsubA()
	unsubA()

	if got := bus.Len(ChannelAdminAlert); got != 1 {
		t.Errorf("Len = %d, want 1", got)
	}

	bus.Publish(AdminAlert{Message: "hi"})

	if a != 0 {
		t.Errorf("unsubscribed handler called %d times", a)
	}
	if b != 1 {
		t.Errorf("remaining handler called %d times, want 1", b)
	}
}

func TestBus_SameFuncRegisteredTwice(t *testing.T) {
	bus := New()

	calls := 0
	h := func(Event) { calls++ }
	unsub1 := bus.Subscribe(ChannelNetworkTraffic, h)
	bus.Subscribe(ChannelNetworkTraffic, h)

	bus.Publish(NetworkTraffic{})
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}

	unsub1()
	bus.Publish(NetworkTraffic{})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestBus_ChannelsAreSeparate(t *testing.T) {
	bus := New()

	var statuses, alerts int
	On(bus, func(SystemStatus) { statuses++ })
	On(bus, func(ThreatAlert) { alerts++ })

	bus.Publish(SystemStatus{})
	bus.Publish(SystemStatus{})
	bus.Publish(ThreatAlert{})

	if statuses != 2 || alerts != 1 {
		t.Errorf("statuses=%d alerts=%d, want 2 and 1", statuses, alerts)
	}
}

func TestBus_ChannelAllSeesEveryEvent(t *testing.T) {
	bus := New()

	var seen []string
	bus.Subscribe(ChannelThreatAlert, func(Event) { seen = append(seen, "threat") })
	bus.Subscribe(ChannelAll, func(ev Event) { seen = append(seen, "all:"+string(ev.Channel())) })

	bus.Publish(ThreatAlert{})
	bus.Publish(SystemStatus{})
	bus.Publish(Unknown{Name: "dao_proposal"})

	want := []string{"threat", "all:threat_alert", "all:system_status", "all:dao_proposal"}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %q, want %q", i, seen[i], want[i])
		}
	}

	// An event whose own channel is ChannelAll is delivered once.
	seen = nil
	bus.Publish(Unknown{Name: ChannelAll})
	if len(seen) != 1 {
		t.Errorf("seen = %v, want one delivery", seen)
	}
}

func TestBus_Clear(t *testing.T) {
	bus := New()

	calls := 0
	for _, ch := range Channels() {
		bus.Subscribe(ch, func(Event) { calls++ })
	}

	bus.Clear()

	bus.Publish(SystemStatus{})
	bus.Publish(ThreatAlert{})
	if calls != 0 {
		t.Errorf("calls after Clear = %d, want 0", calls)
	}
	for _, ch := range Channels() {
		if bus.Len(ch) != 0 {
			t.Errorf("Len(%s) = %d after Clear", ch, bus.Len(ch))
		}
	}
}

func TestBus_UnsubscribeDuringPublish(t *testing.T) {
	bus := New()

	var second int
	var unsubSecond func()
	bus.Subscribe(ChannelSystemStatus, func(Event) { unsubSecond() })
	unsubSecond = bus.Subscribe(ChannelSystemStatus, func(Event) { second++ })

	// The snapshot taken at publish time still includes the second handler.
	bus.Publish(SystemStatus{})
	bus.Publish(SystemStatus{})

	if second != 1 {
		t.Errorf("second handler calls = %d, want 1", second)
	}
}

func TestBus_ConcurrentSubscribePublish(t *testing.T) {
	bus := New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsub := bus.Subscribe(ChannelThreatAlert, func(Event) {})
			unsub()
		}()
		go func() {
			defer wg.Done()
			bus.Publish(ThreatAlert{})
		}()
	}
	wg.Wait()

	if got := bus.Len(ChannelThreatAlert); got != 0 {
		t.Errorf("Len = %d, want 0", got)
	}
}

func TestBus_OrderedIsolatedDeliveryProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("every handler runs in order regardless of panics", prop.ForAll(
		func(panicking []bool) bool {
			bus := New()

			var ran []int
			for i, p := range panicking {
				i, p := i, p
				bus.Subscribe(ChannelThreatAlert, func(Event) {
					ran = append(ran, i)
					if p {
						panic("boom")
					}
				})
			}

			bus.Publish(ThreatAlert{})

			if len(ran) != len(panicking) {
				return false
			}
			for i := range ran {
				if ran[i] != i {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("unsubscribe is idempotent and removes one handler", prop.ForAll(
		func(n, victim, repeats int) bool {
			bus := New()
			unsubs := make([]func(), n)
			for i := range unsubs {
				unsubs[i] = bus.Subscribe(ChannelAdminAlert, func(Event) {})
			}
			for r := 0; r < repeats; r++ {
				unsubs[victim%n]()
			}
			return bus.Len(ChannelAdminAlert) == n-1
		},
		gen.IntRange(1, 20),
		gen.IntRange(0, 100),
		gen.IntRange(1, 4),
	))

	properties.TestingRun(t)
}
