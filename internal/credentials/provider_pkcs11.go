//go:build pkcs11

package credentials

import (
	"fmt"

	"github.com/miekg/pkcs11"
)

// PKCS11SecretStore reads credential secrets from data objects on a PKCS#11
// token, looked up by CKA_LABEL. Enabled via the pkcs11 build tag so the
// default build carries no cgo dependency.
type PKCS11SecretStore struct {
	libPath string
	slotID  uint
	pin     string
	p11     *pkcs11.Ctx
	sess    pkcs11.SessionHandle
}

func NewPKCS11SecretStore(libPath string, slotID uint, pin string) *PKCS11SecretStore {
	return &PKCS11SecretStore{libPath: libPath, slotID: slotID, pin: pin}
}

func (s *PKCS11SecretStore) Open() error {
	s.p11 = pkcs11.New(s.libPath)
	if s.p11 == nil {
		return fmt.Errorf("load pkcs11 lib failed")
	}
	if err := s.p11.Initialize(); err != nil {
		return err
	}
	sess, err := s.p11.OpenSession(pkcs11.SlotID(s.slotID), pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		_ = s.p11.Finalize()
		return err
	}
	s.sess = sess
	if err := s.p11.Login(s.sess, pkcs11.CKU_USER, s.pin); err != nil {
		_ = s.p11.CloseSession(s.sess)
		_ = s.p11.Finalize()
		return err
	}
	return nil
}

func (s *PKCS11SecretStore) Close() {
	if s.p11 != nil {
		if s.sess != 0 {
			_ = s.p11.Logout(s.sess)
			_ = s.p11.CloseSession(s.sess)
		}
		_ = s.p11.Finalize()
		s.p11.Destroy()
		s.p11 = nil
	}
}

func (s *PKCS11SecretStore) find(name string) (pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, name),
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_DATA),
	}
	if err := s.p11.FindObjectsInit(s.sess, template); err != nil {
		return 0, err
	}
	objs, _, err := s.p11.FindObjects(s.sess, 1)
	_ = s.p11.FindObjectsFinal(s.sess)
	if err != nil {
		return 0, err
	}
	if len(objs) == 0 {
		return 0, fmt.Errorf("secret %q not found on token", name)
	}
	return objs[0], nil
}

func (s *PKCS11SecretStore) GetSecret(name string) (string, error) {
	obj, err := s.find(name)
	if err != nil {
		return "", err
	}
	attrs, err := s.p11.GetAttributeValue(s.sess, obj, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
	})
	if err != nil {
		return "", err
	}
	if len(attrs) == 0 {
		return "", fmt.Errorf("secret %q has no value", name)
	}
	return string(attrs[0].Value), nil
}

func (s *PKCS11SecretStore) SetSecret(name, value string) error {
	if obj, err := s.find(name); err == nil {
		return s.p11.SetAttributeValue(s.sess, obj, []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_VALUE, []byte(value)),
		})
	}
	_, err := s.p11.CreateObject(s.sess, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_DATA),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, name),
		pkcs11.NewAttribute(pkcs11.CKA_VALUE, []byte(value)),
	})
	return err
}

var _ SecretStore = (*PKCS11SecretStore)(nil)
