// Command simulate plays complete ride scenarios in process: one student and
// a handful of drivers, each driven through its view-model against the
// in-memory store.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/pflag"

	"github.com/aditya/campus-rides/internal/auth"
	"github.com/aditya/campus-rides/internal/cache"
	"github.com/aditya/campus-rides/internal/logging"
	"github.com/aditya/campus-rides/internal/models"
	"github.com/aditya/campus-rides/internal/realtime"
	"github.com/aditya/campus-rides/internal/repository"
	"github.com/aditya/campus-rides/internal/service"
	"github.com/aditya/campus-rides/internal/store"
	"github.com/aditya/campus-rides/internal/viewmodel"
)

var scenarios = map[string]func(context.Context, *world) error{
	"complete":          completeRide,
	"cancel-by-student": cancelByStudent,
	"cancel-by-driver":  cancelByDriver,
}

func main() {
	flags := pflag.NewFlagSet("simulate", pflag.ContinueOnError)
	drivers := flags.IntP("drivers", "d", 3, "number of online drivers racing for the request")
	scenario := flags.StringP("scenario", "s", "all", "complete, cancel-by-student, cancel-by-driver or all")
	logLevel := flags.String("log-level", "warn", "log level for the components under simulation")
	timeout := flags.Duration("timeout", 10*time.Second, "per scenario deadline")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *drivers < 1 {
		fmt.Fprintln(os.Stderr, "at least one driver is required")
		os.Exit(2)
	}

	names := []string{"complete", "cancel-by-student", "cancel-by-driver"}
	if *scenario != "all" {
		if _, ok := scenarios[*scenario]; !ok {
			fmt.Fprintf(os.Stderr, "unknown scenario %q\n", *scenario)
			os.Exit(2)
		}
		names = []string{*scenario}
	}

	logger := logging.NewLogger(*logLevel)
	failed := false
	for _, name := range names {
		fmt.Printf("== %s ==\n", name)
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		w, err := newWorld(ctx, *drivers, logger)
		if err == nil {
			err = scenarios[name](ctx, w)
			w.close()
		}
		cancel()
		if err != nil {
			fmt.Printf("FAIL %s: %v\n", name, err)
			failed = true
			continue
		}
		fmt.Printf("PASS %s\n", name)
	}
	if failed {
		os.Exit(1)
	}
}

// world is one isolated deployment: its own store, feed and accounts.
type world struct {
	hub     *realtime.Hub
	student *viewmodel.Requester
	session *auth.Session
	drivers []*driver
	release func()
}

type driver struct {
	name  string
	actor service.Actor
	vm    *viewmodel.Provider
}

func newWorld(ctx context.Context, drivers int, logger *slog.Logger) (*world, error) {
	hub := realtime.NewHub(logger)
	users := repository.NewMemoryUserRepository()
	presence := cache.NewMemoryPresenceCache()
	st := store.New(repository.NewMemoryRideRepository(), hub, logger)

	authSvc := auth.NewService(users, cache.NewMemoryRevocationList(), auth.Config{Secret: "simulate"}, logger)
	rides := service.NewRideService(st, presence, nil, logger)
	providers := service.NewProviderService(users, presence, logger)

	w := &world{hub: hub, session: auth.NewSession(authSvc)}

	id, err := w.session.SignUp(ctx, &models.SignUpRequest{
		Email: "asha@campus.edu", Password: "simulate", Role: models.RoleStudent, Name: "Asha",
	})
	if err != nil {
		return nil, err
	}
	w.student = viewmodel.NewRequester(rides, st, service.ActorFromProfile(id.Profile), printer("Asha"), logger)
	w.release = viewmodel.ReleaseOnSignOut(w.session, w.student)

	for i := 1; i <= drivers; i++ {
		name := fmt.Sprintf("Driver%d", i)
		signed, err := authSvc.SignUp(ctx, &models.SignUpRequest{
			Email:    fmt.Sprintf("driver%d@campus.edu", i),
			Password: "simulate",
			Role:     models.RoleDriver,
			Name:     name,
			Vehicle:  "Auto",
		})
		if err != nil {
			return nil, err
		}
		if err := users.SetVerified(ctx, signed.Profile.ID, true); err != nil {
			return nil, err
		}
		verified, err := authSvc.Verify(ctx, signed.Token)
		if err != nil {
			return nil, err
		}

		actor := service.ActorFromProfile(verified.Profile)
		vm, err := viewmodel.NewProvider(rides, providers, st, actor, printer(name), logger)
		if err != nil {
			return nil, err
		}
		if err := vm.GoOnline(ctx); err != nil {
			return nil, err
		}
		w.drivers = append(w.drivers, &driver{name: name, actor: actor, vm: vm})
	}
	return w, nil
}

func (w *world) close() {
	for _, d := range w.drivers {
		d.vm.Release()
	}
	w.session.SignOut(context.Background())
	w.release()
	w.session.Stop()
	w.hub.Close()
}

func printer(who string) viewmodel.Notifier {
	return viewmodel.NotifierFunc(func(n viewmodel.Notification) {
		fmt.Printf("  [%s] notification: %s\n", who, n.Message)
	})
}

// eventually polls cond until it holds or ctx expires.
func eventually(ctx context.Context, what string, cond func() bool) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for %s", what)
		case <-ticker.C:
		}
	}
	return nil
}

func phase(p interface{ State() viewmodel.State }, want viewmodel.Phase) func() bool {
	return func() bool { return p.State().Phase == want }
}

// requestAndRace has the student ask for the last driver by name, then lets
// every driver try to accept at once. It returns the winner.
func requestAndRace(ctx context.Context, w *world) (string, *driver, error) {
	hinted := w.drivers[len(w.drivers)-1]
	rideID, err := w.student.SubmitRequest(ctx, "Main Gate", "Nardana Railway Station", "09:30", hinted.actor.ID)
	if err != nil {
		return "", nil, err
	}
	fmt.Printf("  Asha requested ride %s, hinting %s\n", rideID, hinted.name)

	for _, d := range w.drivers {
		if err := eventually(ctx, d.name+" to see the request", phase(d.vm, viewmodel.PhaseIncoming)); err != nil {
			return "", nil, err
		}
	}

	var (
		mu     sync.Mutex
		winner *driver
		wg     sync.WaitGroup
		errs   []error
	)
	for _, d := range w.drivers {
		wg.Add(1)
		go func(d *driver) {
			defer wg.Done()
			taken, err := d.vm.Accept(ctx, rideID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
			case taken:
				fmt.Printf("  %s: Request already taken\n", d.name)
			default:
				winner = d
			}
		}(d)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return "", nil, err
	}
	if winner == nil {
		return "", nil, errors.New("no driver won the ride")
	}
	fmt.Printf("  %s accepted\n", winner.name)
	return rideID, winner, nil
}

func completeRide(ctx context.Context, w *world) error {
	rideID, winner, err := requestAndRace(ctx, w)
	if err != nil {
		return err
	}

	if err := w.student.Confirm(ctx, rideID); err != nil {
		return err
	}
	if err := winner.vm.Confirm(ctx, rideID); err != nil {
		return err
	}
	if err := eventually(ctx, "the ride to lock", phase(w.student, viewmodel.PhaseLocked)); err != nil {
		return err
	}
	fmt.Println("  both confirmed, ride locked")

	if err := winner.vm.MarkArrived(ctx, rideID); err != nil {
		return err
	}
	if err := w.student.MarkArrived(ctx, rideID); err != nil {
		return err
	}
	if err := eventually(ctx, "the ride to complete", phase(winner.vm, viewmodel.PhaseCompleted)); err != nil {
		return err
	}
	fmt.Printf("  arrived, student prompt %q, driver prompt %q\n", w.student.State().Prompt, winner.vm.State().Prompt)

	w.student.Reset()
	winner.vm.Close()
	return eventually(ctx, "both sides to reset", func() bool {
		return w.student.State().Phase == viewmodel.PhaseSearch && winner.vm.State().Phase != viewmodel.PhaseCompleted
	})
}

func cancelByStudent(ctx context.Context, w *world) error {
	rideID, winner, err := requestAndRace(ctx, w)
	if err != nil {
		return err
	}
	if err := w.student.Cancel(ctx, rideID); err != nil {
		return err
	}
	fmt.Println("  Asha cancelled")
	return eventually(ctx, winner.name+" to drop the ride", func() bool {
		return winner.vm.State().Ride == nil
	})
}

func cancelByDriver(ctx context.Context, w *world) error {
	rideID, winner, err := requestAndRace(ctx, w)
	if err != nil {
		return err
	}
	if err := winner.vm.Cancel(ctx, rideID); err != nil {
		return err
	}
	fmt.Printf("  %s rejected the ride\n", winner.name)
	return eventually(ctx, "Asha to return to search", phase(w.student, viewmodel.PhaseSearch))
}
