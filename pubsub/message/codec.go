package message

import (
	"encoding/json"
	"reflect"

	"github.com/go-foreman/conductor/pubsub/transport"
	"github.com/go-foreman/conductor/runtime/scheme"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../../testing/mocks/pubsub/message/codec.go -package message . Marshaller,Decoder

const ContentTypeJSON = "application/json"

type Marshaller interface {
	Marshal(job *Job) ([]byte, error)
}

type Decoder interface {
	// Decode unmarshals the package payload into a job, its Payload holds a value of the type registered under the job name
	Decode(inPkg transport.IncomingPkg) (*ReceivedJob, error)
}

// DecoderErr marks a package that will never be decoded, so it must not be redelivered
type DecoderErr struct {
	error
}

func WithDecoderErr(err error) error {
	return DecoderErr{err}
}

func (d DecoderErr) Cause() error {
	return d.error
}

func (d DecoderErr) Unwrap() error {
	return d.error
}

func NewJsonMarshaller() Marshaller {
	return jsonMarshaller{}
}

type jsonMarshaller struct{}

func (j jsonMarshaller) Marshal(job *Job) ([]byte, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, errors.Wrapf(err, "marshaling job %s", job.ID)
	}

	return data, nil
}

func NewJsonDecoder(knownTypes scheme.KnownTypesRegistry) Decoder {
	return &jsonDecoder{knownTypes: knownTypes}
}

type jsonDecoder struct {
	knownTypes scheme.KnownTypesRegistry
}

func (j jsonDecoder) Decode(inPkg transport.IncomingPkg) (*ReceivedJob, error) {
	var decoded ReceivedJob

	if err := json.Unmarshal(inPkg.Payload(), &decoded.Job); err != nil {
		return nil, WithDecoderErr(errors.Wrap(err, "unmarshaling job"))
	}

	if decoded.Name == "" {
		return nil, WithDecoderErr(errors.Errorf("job %s has no name", decoded.ID))
	}

	// decoded.Payload now is map[string]interface{}, it's filled into the type from KnownTypesRegistry
	obj, err := j.knownTypes.NewObject(decoded.Name)
	if err != nil {
		return nil, WithDecoderErr(errors.Wrapf(err, "decoding payload of job %s", decoded.ID))
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Squash:  true,
		TagName: "json",
		Result:  obj,
	})
	if err != nil {
		return nil, WithDecoderErr(errors.WithStack(err))
	}

	if err := decoder.Decode(decoded.Payload); err != nil {
		return nil, WithDecoderErr(errors.Wrapf(err, "decoding payload of job %s into %T", decoded.ID, obj))
	}

	decoded.Payload = reflect.ValueOf(obj).Elem().Interface()

	if decoded.Headers == nil {
		decoded.Headers = make(Headers)
	}

	decoded.Origin = inPkg.Origin()
	decoded.ReceivedAt = inPkg.ReceivedAt()

	return &decoded, nil
}
