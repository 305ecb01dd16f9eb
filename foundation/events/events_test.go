package events_test

import (
	"testing"

	"github.com/ardanlabs/ledger/foundation/events"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Events(t *testing.T) {
	t.Log("Given the need to fan out viewer events.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen two receivers are registered.", testID)
		{
			evts := events.New("viewer:")

			ch1 := evts.Acquire("one")
			ch2 := evts.Acquire("two")

			if evts.Count() != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould have two receivers, got %d.", failed, testID, evts.Count())
			}
			t.Logf("\t%s\tTest %d:\tShould have two receivers.", success, testID)

			evts.Send("state: MineBlock: MINING: started")
			evts.Send("viewer: block: 1")

			for _, ch := range []chan string{ch1, ch2} {
				if msg := <-ch; msg != "block: 1" {
					t.Fatalf("\t%s\tTest %d:\tShould receive only the viewer event, got %q.", failed, testID, msg)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould receive only the viewer event.", success, testID)

			if err := evts.Release("one"); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould release the receiver: %v", failed, testID, err)
			}
			if _, open := <-ch1; open {
				t.Fatalf("\t%s\tTest %d:\tShould close the released channel.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould close the released channel.", success, testID)

			if err := evts.Release("one"); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould fail to release twice.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould fail to release twice.", success, testID)

			evts.Shutdown()
			if _, open := <-ch2; open || evts.Count() != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould close everything on shutdown.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould close everything on shutdown.", success, testID)
		}
	}
}
