package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/armonempire/portal/checkout"
	"github.com/armonempire/portal/models"
	"github.com/armonempire/portal/portalclient"
	"github.com/armonempire/portal/wizard"
)

const help = `commands:
  drink <name> | drink no    choose a drink or skip it
  dob YYYY-MM-DD             date of birth, needed for a drink
  photo <path>               photo ID, needed for a drink
  barber <number>            pick from the roster
  bookings                   show live bookings
  n | b                      next or back
  pay                        take payment on the checkout step
  q                          quit`

var prompts = map[wizard.Step]string{
	wizard.DrinkPreference:    "Would you like a drink with your cut?",
	wizard.BarberSelection:    "Who would you like to cut your hair?",
	wizard.AppointmentBooking: "Book your appointments, then continue.",
	wizard.ReviewSelections:   "Review your selections.",
	wizard.Checkout:           "Ready to pay. Type pay to finish.",
}

// console drives a Flow from line commands.
type console struct {
	flow     *wizard.Flow
	out      io.Writer
	readFile func(string) ([]byte, error)
}

func newConsole(flow *wizard.Flow, out io.Writer) *console {
	return &console{flow: flow, out: out, readFile: os.ReadFile}
}

// run reads commands until the member quits, backs out of the wizard, pays,
// ctx ends, or in runs dry.
func (c *console) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	c.showStep()
	for {
		fmt.Fprint(c.out, "> ")
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line = l
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		arg = strings.TrimSpace(arg)

		switch strings.ToLower(cmd) {
		case "":
		case "q", "quit":
			return nil
		case "help", "?":
			fmt.Fprintln(c.out, help)
		case "drink":
			c.drink(arg)
		case "dob":
			c.flow.Wizard.Update(func(f *wizard.FormState) { f.DOB = arg })
		case "photo":
			c.photo(arg)
		case "barber":
			c.barber(arg)
		case "bookings":
			c.bookings()
		case "n", "next":
			if !c.flow.Wizard.Advance() {
				fmt.Fprintln(c.out, "This step is not complete yet.")
				continue
			}
			c.showStep()
		case "b", "back":
			if c.flow.Wizard.Retreat() {
				fmt.Fprintln(c.out, "See you next time.")
				return nil
			}
			c.showStep()
		case "pay":
			if done := c.pay(ctx); done {
				return nil
			}
		default:
			fmt.Fprintf(c.out, "Unknown command %q. Type help for the list.\n", cmd)
		}
	}
}

func (c *console) showStep() {
	step := c.flow.Wizard.Step()
	fmt.Fprintf(c.out, "[%s] %s\n", step, prompts[step])
	switch step {
	case wizard.BarberSelection:
		for i, b := range models.ActiveBarbers() {
			fmt.Fprintf(c.out, "  %d. %s, %s\n", i+1, b.Name, b.Title)
		}
	case wizard.AppointmentBooking:
		c.bookings()
	case wizard.ReviewSelections:
		form := c.flow.Wizard.Form()
		drink := "none"
		if form.WantsDrink {
			drink = form.DrinkOfChoice
		}
		fmt.Fprintf(c.out, "  membership: %s\n  barber: %s\n  drink: %s\n",
			c.flow.Membership(), form.PreferredBarber, drink)
	}
}

func (c *console) drink(arg string) {
	if arg == "" {
		fmt.Fprintln(c.out, "Usage: drink <name> or drink no")
		return
	}
	if strings.EqualFold(arg, "no") {
		c.flow.Wizard.Update(func(f *wizard.FormState) {
			f.WantsDrink = false
			f.DrinkOfChoice = ""
		})
		return
	}
	c.flow.Wizard.Update(func(f *wizard.FormState) {
		f.WantsDrink = true
		f.DrinkOfChoice = arg
	})
}

func (c *console) photo(path string) {
	data, err := c.readFile(path)
	if err != nil {
		fmt.Fprintf(c.out, "Could not read %s: %v\n", path, err)
		return
	}
	p := &portalclient.Photo{Data: data, FileName: filepath.Base(path), ContentType: http.DetectContentType(data)}
	c.flow.Wizard.Update(func(f *wizard.FormState) { f.Photo = p })
}

func (c *console) barber(arg string) {
	roster := models.ActiveBarbers()
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(roster) {
		fmt.Fprintf(c.out, "Pick a barber between 1 and %d.\n", len(roster))
		return
	}
	name := roster[n-1].Name
	c.flow.Wizard.Update(func(f *wizard.FormState) { f.PreferredBarber = name })
	fmt.Fprintf(c.out, "Barber: %s\n", name)
}

func (c *console) bookings() {
	w := c.flow.Wizard
	fmt.Fprintf(c.out, "  booked %d of %d\n", w.CompletedAppointments(), w.RequiredAppointments())
	for _, a := range c.flow.Bookings.Appointments() {
		fmt.Fprintf(c.out, "  %s %s (%s)\n", a.Datetime.Format("Mon Jan 2 3:04PM"), a.Service, a.Status)
	}
}

// pay reports whether the subscription went through.
func (c *console) pay(ctx context.Context) bool {
	if c.flow.Wizard.Step() != wizard.Checkout {
		fmt.Fprintln(c.out, "Finish the earlier steps first.")
		return false
	}
	err := c.flow.Pay(ctx)
	if err == nil {
		fmt.Fprintf(c.out, "Welcome to the Empire. Your %s membership is active.\n", c.flow.Membership())
		return true
	}
	var payErr *checkout.Error
	if errors.As(err, &payErr) {
		fmt.Fprintf(c.out, "Payment failed: %s\n", payErr.Message)
		return false
	}
	fmt.Fprintf(c.out, "Payment failed: %v\n", err)
	return false
}
