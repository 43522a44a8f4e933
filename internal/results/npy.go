package results

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
)

// SaveArray writes values as a 1-D float64 NumPy array.
func SaveArray(path string, values []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if values == nil {
		values = []float64{}
	}
	if err := npyio.Write(f, values); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

// LoadArray reads a 1-D float64 NumPy array.
func LoadArray(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	var values []float64
	if err := npyio.Read(f, &values); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return values, nil
}
