package journal

import "errors"

// Multi writes every record to each journal in order. Errors are joined;
// a failing journal does not stop the others.
func Multi(js ...Journal) Journal {
	return multi(js)
}

type multi []Journal

func (m multi) RecordTrade(t TradeRecord) error {
	var errs []error
	for _, j := range m {
		errs = append(errs, j.RecordTrade(t))
	}
	return errors.Join(errs...)
}

func (m multi) RecordEquity(e EquitySnapshot) error {
	var errs []error
	for _, j := range m {
		errs = append(errs, j.RecordEquity(e))
	}
	return errors.Join(errs...)
}

func (m multi) RecordSignal(s SignalRecord) error {
	var errs []error
	for _, j := range m {
		errs = append(errs, j.RecordSignal(s))
	}
	return errors.Join(errs...)
}

func (m multi) Close() error {
	var errs []error
	for _, j := range m {
		errs = append(errs, j.Close())
	}
	return errors.Join(errs...)
}
